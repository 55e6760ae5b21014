package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/dosetrack/dosetrack/internal/config"
	"github.com/dosetrack/dosetrack/internal/database"
	"github.com/dosetrack/dosetrack/internal/engine"
	"github.com/dosetrack/dosetrack/internal/handler"
	"github.com/dosetrack/dosetrack/internal/logger"
	"github.com/dosetrack/dosetrack/internal/notify"
	"github.com/dosetrack/dosetrack/internal/queue"
	"github.com/dosetrack/dosetrack/internal/repository"
	"github.com/dosetrack/dosetrack/internal/router"
	"github.com/dosetrack/dosetrack/internal/scheduler"
	"github.com/dosetrack/dosetrack/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zl.Fatal("database connect failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(ctx, db); err != nil {
		zl.Fatal("database migration failed", zap.Error(err))
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		zl.Warn("redis unavailable, using in-process locks; caching and rate limiting disabled")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	schedules := repository.NewScheduleRepo(db)
	inventory := repository.NewInventoryRepo(db)
	logs := repository.NewNotificationRepo(db)

	dispatcher := notify.NewDispatcher(zl, cfg.SendTimeout,
		&notify.EmailSender{
			Host: cfg.SMTPHost, Port: cfg.SMTPPort, From: cfg.SMTPFrom,
			User: cfg.SMTPUser, Pass: cfg.SMTPPass,
		},
		&notify.SMSSender{
			AccountSID: cfg.TwilioAccountSID, AuthToken: cfg.TwilioAuthToken, From: cfg.TwilioFrom,
		},
		&notify.PushSender{ServerKey: cfg.FCMServerKey},
	)

	var locker engine.Locker
	if rdb != nil {
		locker = engine.NewRedisLocker(rdb)
	} else {
		locker = engine.NewMutexLocker()
	}
	publisher := service.NewRefillQueuePublisher(queue.BrokerURL(), zl)

	eng := engine.New(schedules, logs, dispatcher, locker, publisher, zl, engine.Options{
		Workers: cfg.EngineWorkers,
	})

	go func() {
		if err := queue.StartRefillConsumer(ctx, eng.Refill(), zl); err != nil && ctx.Err() == nil {
			zl.Error("refill consumer stopped", zap.Error(err))
		}
	}()

	sched := scheduler.New(eng, logs, tokens, schedules, zl, scheduler.Options{
		TickInterval:        cfg.TickInterval,
		MaintenanceInterval: cfg.MaintenanceInterval,
		SweepInterval:       cfg.SweepInterval,
		LogRetention:        cfg.LogRetention,
	})
	go sched.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.Register(e, router.Handlers{
		Auth:          handler.NewAuthHandler(cfg, users, tokens),
		Schedules:     handler.NewScheduleHandler(schedules, users),
		Inventory:     handler.NewInventoryHandler(inventory),
		Notifications: handler.NewNotificationHandler(logs),
		Dashboard:     handler.NewDashboardHandler(schedules),
	}, cfg, rdb)

	go func() {
		<-ctx.Done()
		zl.Info("shutting down")
		_ = e.Shutdown(context.Background())
	}()

	addr := ":" + cfg.Port
	zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := e.Start(addr); err != nil && ctx.Err() == nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}
