// Package engine evaluates dose schedules. Every tick it selects the
// schedules that could plausibly be due, narrows them with per-user
// timezone math, and dispatches reminders with an at-most-once
// guarantee per schedule per window. Stock decrements and audit rows
// commit together; a delivery failure on every channel still consumes
// the dose, because the attempt is what the stock model counts.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/notify"
	"github.com/dosetrack/dosetrack/internal/repository"
)

// DispatchGuard is the log-lookback horizon for duplicate detection.
// Any dose-kind log row younger than this suppresses a new dispatch
// for the same schedule. It is twice the due window so overlapping
// ticks and engine restarts inside a window stay idempotent.
const DispatchGuard = 120 * time.Second

// ScheduleStore is the slice of the schedule repository the engine
// needs. *repository.ScheduleRepo satisfies it.
type ScheduleStore interface {
	DueCandidates(ctx context.Context, nowUTC time.Time) ([]repository.DueCandidate, error)
	CommitDoseDispatch(ctx context.Context, commit repository.DoseCommit) (decimal.Decimal, bool, error)
	ScheduleForRefill(ctx context.Context, id uint64) (model.Schedule, model.User, error)
	MarkRefillSent(ctx context.Context, id uint64) error
	RecordRefillOutcomes(ctx context.Context, userID, scheduleID uint64, outcomes []repository.ChannelOutcome, now time.Time) error
}

// GuardStore answers the idempotency question from the notification
// log. *repository.NotificationRepo satisfies it.
type GuardStore interface {
	ExistsRecentDoseEntry(ctx context.Context, userID, scheduleID uint64, since time.Time) (bool, error)
}

// Notifier fans one message out to a user's channels.
type Notifier interface {
	Dispatch(ctx context.Context, user *model.User, channels []model.Channel, msg notify.Message) []notify.Result
}

// RefillPublisher hands a due refill to the queue for asynchronous
// dispatch. The engine falls back to inline dispatch when publishing
// fails, so a broker outage delays nothing.
type RefillPublisher interface {
	PublishRefillDue(ctx context.Context, userID, scheduleID uint64) error
}

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	Window  time.Duration // due window half-width, default DefaultDueWindow
	Workers int           // concurrent candidate evaluations, default 8
}

// Engine runs one evaluation pass per tick.
type Engine struct {
	schedules ScheduleStore
	guard     GuardStore
	notifier  Notifier
	locker    Locker
	publisher RefillPublisher // may be nil
	refill    *RefillService
	log       *zap.Logger

	window  time.Duration
	workers int
}

func New(schedules ScheduleStore, guard GuardStore, notifier Notifier, locker Locker,
	publisher RefillPublisher, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Window <= 0 {
		opts.Window = DefaultDueWindow
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Engine{
		schedules: schedules,
		guard:     guard,
		notifier:  notifier,
		locker:    locker,
		publisher: publisher,
		refill:    NewRefillService(schedules, notifier, locker, log),
		log:       log,
		window:    opts.Window,
		workers:   opts.Workers,
	}
}

// Refill exposes the engine's refill service for the queue consumer.
func (e *Engine) Refill() *RefillService { return e.refill }

// EvaluateTick runs one evaluation pass at nowUTC and returns the
// number of schedules dispatched. A failure on one schedule is logged
// and never aborts the rest of the pass; only a failure to load the
// candidate set is returned as an error.
func (e *Engine) EvaluateTick(ctx context.Context, nowUTC time.Time) (int, error) {
	nowUTC = nowUTC.UTC()
	candidates, err := e.schedules.DueCandidates(ctx, nowUTC)
	if err != nil {
		return 0, err
	}

	var (
		wg         sync.WaitGroup
		sem        = make(chan struct{}, e.workers)
		mu         sync.Mutex
		dispatched int
	)
	for i := range candidates {
		cand := &candidates[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			ok, err := e.evaluateCandidate(ctx, cand, nowUTC)
			if err != nil {
				e.log.Error("schedule evaluation failed",
					zap.Uint64("schedule_id", cand.Schedule.ID),
					zap.Uint64("user_id", cand.User.ID),
					zap.Error(err))
				return
			}
			if ok {
				mu.Lock()
				dispatched++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return dispatched, nil
}

// evaluateCandidate handles one schedule: due check, duplicate guard,
// dispatch lock, channel fan-out, atomic commit, refill hand-off.
// Returns true when a dose was dispatched.
func (e *Engine) evaluateCandidate(ctx context.Context, cand *repository.DueCandidate, nowUTC time.Time) (bool, error) {
	slot := dueSlot(nowUTC, cand.User.Location(), cand.Slots, e.window)
	if slot == nil {
		return false, nil
	}

	release, acquired, err := e.locker.TryLock(ctx, scheduleLockKey(cand.Schedule.ID))
	if err != nil {
		return false, err
	}
	if !acquired {
		// Another instance is mid-dispatch on this schedule.
		return false, nil
	}
	defer release()

	// Guard check runs under the lock so a commit racing this read is
	// impossible.
	seen, err := e.guard.ExistsRecentDoseEntry(ctx, cand.User.ID, cand.Schedule.ID, nowUTC.Add(-DispatchGuard))
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	msg := notify.DoseMessage(&cand.User, &cand.Schedule, slot)
	results := e.notifier.Dispatch(ctx, &cand.User, cand.Schedule.Channels, msg)

	newQty, stillActive, err := e.schedules.CommitDoseDispatch(ctx, repository.DoseCommit{
		UserID:     cand.User.ID,
		ScheduleID: cand.Schedule.ID,
		SlotAmount: slot.Amount,
		Outcomes:   toOutcomes(results),
		Now:        nowUTC,
	})
	if err != nil {
		return false, err
	}

	e.log.Info("dose dispatched",
		zap.Uint64("schedule_id", cand.Schedule.ID),
		zap.Uint64("user_id", cand.User.ID),
		zap.String("medicine", cand.Schedule.MedicineName),
		zap.String("remaining", newQty.String()),
		zap.Bool("still_active", stillActive))

	// Refill evaluation runs on the post-decrement stock level.
	after := cand.Schedule
	after.Quantity = newQty
	after.IsActive = stillActive
	if after.RefillDue() {
		e.handOffRefill(ctx, cand.User.ID, cand.Schedule.ID)
	}
	return true, nil
}

// handOffRefill prefers the queue and falls back to inline dispatch.
func (e *Engine) handOffRefill(ctx context.Context, userID, scheduleID uint64) {
	if e.publisher != nil {
		err := e.publisher.PublishRefillDue(ctx, userID, scheduleID)
		if err == nil {
			return
		}
		e.log.Warn("refill publish failed, dispatching inline",
			zap.Uint64("schedule_id", scheduleID), zap.Error(err))
	}
	if err := e.refill.Process(ctx, scheduleID); err != nil {
		e.log.Error("inline refill dispatch failed",
			zap.Uint64("schedule_id", scheduleID), zap.Error(err))
	}
}

func toOutcomes(results []notify.Result) []repository.ChannelOutcome {
	outcomes := make([]repository.ChannelOutcome, 0, len(results))
	for _, r := range results {
		o := repository.ChannelOutcome{Channel: r.Channel}
		if r.Err != nil {
			o.Err = r.Err.Error()
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}
