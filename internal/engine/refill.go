package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dosetrack/dosetrack/internal/notify"
)

// RefillService dispatches low-stock alerts. It runs behind the queue
// consumer and as the engine's inline fallback, so it takes a
// per-schedule lock and re-validates the latch under it before sending
// anything; an event that was neutralized in flight (manual top-up,
// disabled alerts, deleted schedule) becomes a no-op, and the consumer
// racing the fallback on the same event fires once, not twice.
type RefillService struct {
	schedules ScheduleStore
	notifier  Notifier
	locker    Locker
	log       *zap.Logger
}

func NewRefillService(schedules ScheduleStore, notifier Notifier, locker Locker, log *zap.Logger) *RefillService {
	if locker == nil {
		locker = NewMutexLocker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RefillService{schedules: schedules, notifier: notifier, locker: locker, log: log}
}

// Process dispatches the refill alert for one schedule. The latch is
// set exactly once regardless of channel outcomes: failed sends are
// audit rows, not reasons to alert again next tick.
func (s *RefillService) Process(ctx context.Context, scheduleID uint64) error {
	release, acquired, err := s.locker.TryLock(ctx, refillLockKey(scheduleID))
	if err != nil {
		return err
	}
	if !acquired {
		// Another worker is mid-dispatch on this schedule.
		s.log.Debug("refill already in flight, skipping",
			zap.Uint64("schedule_id", scheduleID))
		return nil
	}
	defer release()

	sched, user, err := s.schedules.ScheduleForRefill(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !sched.RefillDue() {
		s.log.Debug("refill no longer due, skipping",
			zap.Uint64("schedule_id", scheduleID))
		return nil
	}

	now := time.Now().UTC()
	msg := notify.RefillMessage(&user, &sched)
	results := s.notifier.Dispatch(ctx, &user, sched.Channels, msg)

	if err := s.schedules.RecordRefillOutcomes(ctx, user.ID, sched.ID, toOutcomes(results), now); err != nil {
		return err
	}
	if err := s.schedules.MarkRefillSent(ctx, sched.ID); err != nil {
		return err
	}

	s.log.Info("refill alert dispatched",
		zap.Uint64("schedule_id", sched.ID),
		zap.Uint64("user_id", user.ID),
		zap.String("medicine", sched.MedicineName),
		zap.String("remaining", sched.Quantity.String()))
	return nil
}
