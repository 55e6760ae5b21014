package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/notify"
	"github.com/dosetrack/dosetrack/internal/repository"
)

// fakeStore backs the engine with in-memory schedules. Commits apply
// the decrement and the stock rules the same way the SQL transaction
// does, and every commit is timestamped so fakeGuard can answer the
// duplicate question from it.
type fakeStore struct {
	mu           sync.Mutex
	candidates   []repository.DueCandidate
	commits      []repository.DoseCommit
	commitErrFor map[uint64]error
	refillRecs   [][]repository.ChannelOutcome
	marked       []uint64
}

func (s *fakeStore) DueCandidates(context.Context, time.Time) ([]repository.DueCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.DueCandidate, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}

func (s *fakeStore) CommitDoseDispatch(_ context.Context, c repository.DoseCommit) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitErrFor[c.ScheduleID]; err != nil {
		return decimal.Zero, false, err
	}
	for i := range s.candidates {
		sched := &s.candidates[i].Schedule
		if sched.ID != c.ScheduleID {
			continue
		}
		sched.Quantity = sched.Quantity.Sub(c.SlotAmount)
		sched.ApplyStockRules()
		s.commits = append(s.commits, c)
		return sched.Quantity, sched.IsActive, nil
	}
	return decimal.Zero, false, errors.New("schedule not found")
}

func (s *fakeStore) ScheduleForRefill(_ context.Context, id uint64) (model.Schedule, model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.candidates {
		if s.candidates[i].Schedule.ID == id {
			return s.candidates[i].Schedule, s.candidates[i].User, nil
		}
	}
	return model.Schedule{}, model.User{}, repository.ErrNotFound
}

func (s *fakeStore) MarkRefillSent(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, id)
	for i := range s.candidates {
		if s.candidates[i].Schedule.ID == id {
			s.candidates[i].Schedule.RefillSent = true
		}
	}
	return nil
}

func (s *fakeStore) RecordRefillOutcomes(_ context.Context, _, _ uint64, outcomes []repository.ChannelOutcome, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refillRecs = append(s.refillRecs, outcomes)
	return nil
}

func (s *fakeStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commits)
}

// fakeGuard reads the commit log of a fakeStore, mirroring the real
// guard query against notification_logs.
type fakeGuard struct{ store *fakeStore }

func (g *fakeGuard) ExistsRecentDoseEntry(_ context.Context, userID, scheduleID uint64, since time.Time) (bool, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	for _, c := range g.store.commits {
		if c.UserID == userID && c.ScheduleID == scheduleID && !c.Now.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notify.Message
	fail  error // when set, every channel reports this error
}

func (n *fakeNotifier) Dispatch(_ context.Context, _ *model.User, channels []model.Channel, msg notify.Message) []notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
	results := make([]notify.Result, 0, len(channels))
	for _, ch := range channels {
		results = append(results, notify.Result{Channel: ch, Err: n.fail})
	}
	return results
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// gatedNotifier parks inside Dispatch until released, letting a test
// hold one dispatch mid-flight while a second caller races it.
type gatedNotifier struct {
	fakeNotifier
	entered chan struct{}
	release chan struct{}
}

func (n *gatedNotifier) Dispatch(ctx context.Context, u *model.User, channels []model.Channel, msg notify.Message) []notify.Result {
	n.entered <- struct{}{}
	<-n.release
	return n.fakeNotifier.Dispatch(ctx, u, channels, msg)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []uint64
	err       error
}

func (p *fakePublisher) PublishRefillDue(_ context.Context, _, scheduleID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, scheduleID)
	return nil
}

type deniedLocker struct{}

func (deniedLocker) TryLock(context.Context, string) (func(), bool, error) {
	return func() {}, false, nil
}

func candidate(id uint64, qty string, threshold string, refillEnabled bool, times ...string) repository.DueCandidate {
	s := model.Schedule{
		ID:            id,
		UserID:        1,
		MedicineName:  "Metformin",
		MedicineType:  model.MedicineTablet,
		Channels:      []model.Channel{model.ChannelEmail},
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Quantity:      dec(qty),
		RefillEnabled: refillEnabled,
		IsActive:      true,
	}
	if threshold != "" {
		s.RefillThreshold = decimal.NullDecimal{Decimal: dec(threshold), Valid: true}
	}
	slots := make([]model.DoseSlot, 0, len(times))
	for i, tm := range times {
		slots = append(slots, model.DoseSlot{
			ScheduleID: id, DoseNumber: i + 1,
			Amount: decimal.NewFromInt(1), TimeOfDay: tm,
		})
	}
	return repository.DueCandidate{
		Schedule: s,
		User:     model.User{ID: 1, Email: "pat@example.com", Timezone: "UTC", IsActive: true},
		Slots:    slots,
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(store *fakeStore, n Notifier, pub RefillPublisher) *Engine {
	return New(store, &fakeGuard{store: store}, n, NewMutexLocker(), pub, nil, Options{Workers: 2})
}

func TestEvaluateTickDispatchesDueSchedule(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "30", "", false, "08:00:00"),
	}}
	notifier := &fakeNotifier{}
	eng := newTestEngine(store, notifier, nil)

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	n, err := eng.EvaluateTick(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	if n != 1 {
		t.Fatalf("dispatched = %d, want 1", n)
	}
	if store.commitCount() != 1 {
		t.Fatalf("commits = %d, want 1", store.commitCount())
	}
	if !store.commits[0].SlotAmount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("committed amount = %s, want 1", store.commits[0].SlotAmount)
	}
	if !store.candidates[0].Schedule.Quantity.Equal(dec("29")) {
		t.Fatalf("quantity after commit = %s, want 29", store.candidates[0].Schedule.Quantity)
	}
}

func TestEvaluateTickSecondRunIsNoOp(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "30", "", false, "08:00:00"),
	}}
	eng := newTestEngine(store, &fakeNotifier{}, nil)

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := eng.EvaluateTick(context.Background(), now); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	// 30 seconds later the slot is still inside the window; the log
	// guard must suppress a second dispatch.
	n, err := eng.EvaluateTick(context.Background(), now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if n != 0 {
		t.Fatalf("second tick dispatched %d, want 0", n)
	}
	if store.commitCount() != 1 {
		t.Fatalf("commits = %d after two ticks, want 1", store.commitCount())
	}
}

func TestEvaluateTickNotDueOutsideWindow(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "30", "", false, "08:00:00"),
	}}
	eng := newTestEngine(store, &fakeNotifier{}, nil)

	now := time.Date(2024, 3, 10, 8, 5, 0, 0, time.UTC)
	n, err := eng.EvaluateTick(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	if n != 0 || store.commitCount() != 0 {
		t.Fatalf("dispatched=%d commits=%d, want 0 and 0", n, store.commitCount())
	}
}

func TestEvaluateTickAllChannelsFailedStillDecrements(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "30", "", false, "08:00:00"),
	}}
	notifier := &fakeNotifier{fail: errors.New("provider down")}
	eng := newTestEngine(store, notifier, nil)

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	n, err := eng.EvaluateTick(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	if n != 1 {
		t.Fatalf("dispatched = %d, want 1", n)
	}
	if !store.candidates[0].Schedule.Quantity.Equal(dec("29")) {
		t.Fatalf("failed sends must still decrement, got %s", store.candidates[0].Schedule.Quantity)
	}
	outcomes := store.commits[0].Outcomes
	if len(outcomes) != 1 || outcomes[0].Err == "" {
		t.Fatalf("expected one failed outcome in the commit, got %+v", outcomes)
	}
}

func TestEvaluateTickDeactivatesOnLastDose(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "1", "", false, "08:00:00"),
	}}
	eng := newTestEngine(store, &fakeNotifier{}, nil)

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := eng.EvaluateTick(context.Background(), now); err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	sched := store.candidates[0].Schedule
	if !sched.Quantity.Equal(decimal.Zero) {
		t.Fatalf("quantity = %s, want 0", sched.Quantity)
	}
	if sched.IsActive {
		t.Fatal("schedule must deactivate when the last dose is consumed")
	}
}

func TestEvaluateTickRefillHandOff(t *testing.T) {
	// 11 - 1 = 10, at the threshold: the refill must be handed off to
	// the publisher exactly once.
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "11", "10", true, "08:00:00"),
	}}
	pub := &fakePublisher{}
	eng := newTestEngine(store, &fakeNotifier{}, pub)

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := eng.EvaluateTick(context.Background(), now); err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0] != 1 {
		t.Fatalf("published = %v, want exactly [1]", pub.published)
	}
	if len(store.marked) != 0 {
		t.Fatal("queue hand-off must not set the latch inline")
	}
}

func TestEvaluateTickRefillAboveThresholdSilent(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "12", "10", true, "08:00:00"),
	}}
	pub := &fakePublisher{}
	eng := newTestEngine(store, &fakeNotifier{}, pub)

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := eng.EvaluateTick(context.Background(), now); err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatalf("11 remaining is above threshold 10, published = %v", pub.published)
	}
}

func TestEvaluateTickRefillInlineFallback(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "11", "10", true, "08:00:00"),
	}}
	notifier := &fakeNotifier{}
	pub := &fakePublisher{err: errors.New("broker down")}
	eng := newTestEngine(store, notifier, pub)

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := eng.EvaluateTick(context.Background(), now); err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	// Dose message plus inline refill message.
	if notifier.callCount() != 2 {
		t.Fatalf("dispatch calls = %d, want 2 (dose + inline refill)", notifier.callCount())
	}
	if len(store.marked) != 1 || store.marked[0] != 1 {
		t.Fatalf("latch marks = %v, want [1]", store.marked)
	}
	if len(store.refillRecs) != 1 {
		t.Fatalf("refill outcome records = %d, want 1", len(store.refillRecs))
	}
}

func TestEvaluateTickLockContentionSkips(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "30", "", false, "08:00:00"),
	}}
	eng := New(store, &fakeGuard{store: store}, &fakeNotifier{}, deniedLocker{}, nil, nil, Options{})

	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	n, err := eng.EvaluateTick(context.Background(), now)
	if err != nil {
		t.Fatalf("EvaluateTick: %v", err)
	}
	if n != 0 || store.commitCount() != 0 {
		t.Fatal("a held lock must skip the schedule without dispatching")
	}
}

func TestEvaluateTickIsolatesFailures(t *testing.T) {
	// Schedule 1 fails at commit time; schedule 2 in the same pass
	// must still go through and the pass itself must not error.
	store := &fakeStore{
		candidates: []repository.DueCandidate{
			candidate(1, "30", "", false, "08:00:00"),
			candidate(2, "30", "", false, "08:00:00"),
		},
		commitErrFor: map[uint64]error{1: errors.New("deadlock")},
	}

	eng := newTestEngine(store, &fakeNotifier{}, nil)
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	n, err := eng.EvaluateTick(context.Background(), now)
	if err != nil {
		t.Fatalf("a per-schedule failure must not fail the pass: %v", err)
	}
	if n != 1 {
		t.Fatalf("dispatched = %d, want 1 (the healthy schedule)", n)
	}
	if store.commitCount() != 1 || store.commits[0].ScheduleID != 2 {
		t.Fatalf("expected exactly one commit for schedule 2, got %+v", store.commits)
	}
	if !store.candidates[1].Schedule.Quantity.Equal(dec("29")) {
		t.Fatalf("healthy schedule not decremented: %s", store.candidates[1].Schedule.Quantity)
	}
}

func TestRefillProcessNoLongerDue(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "50", "10", true),
	}}
	notifier := &fakeNotifier{}
	svc := NewRefillService(store, notifier, nil, nil)

	// Stock was topped up between publish and consume: no-op.
	if err := svc.Process(context.Background(), 1); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if notifier.callCount() != 0 {
		t.Fatal("neutralized refill event must not dispatch")
	}
	if len(store.marked) != 0 {
		t.Fatal("neutralized refill event must not set the latch")
	}
}

func TestRefillProcessLatchAlreadySet(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "5", "10", true),
	}}
	store.candidates[0].Schedule.RefillSent = true
	notifier := &fakeNotifier{}
	svc := NewRefillService(store, notifier, nil, nil)

	if err := svc.Process(context.Background(), 1); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if notifier.callCount() != 0 {
		t.Fatal("a set latch must suppress a duplicate refill alert")
	}
}

func TestRefillProcessMarksLatchEvenWhenSendsFail(t *testing.T) {
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "5", "10", true),
	}}
	notifier := &fakeNotifier{fail: errors.New("provider down")}
	svc := NewRefillService(store, notifier, nil, nil)

	if err := svc.Process(context.Background(), 1); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(store.marked) != 1 {
		t.Fatal("latch must be set once per episode regardless of channel outcomes")
	}
	if len(store.refillRecs) != 1 || store.refillRecs[0][0].Err == "" {
		t.Fatalf("expected one failed outcome recorded, got %+v", store.refillRecs)
	}
}

func TestRefillProcessConcurrentCallsDispatchOnce(t *testing.T) {
	// The queue consumer and the engine's inline fallback can both pick
	// up the same refill event. With the first call held mid-dispatch
	// (latch not yet set), the second must skip rather than double-fire.
	store := &fakeStore{candidates: []repository.DueCandidate{
		candidate(1, "5", "10", true),
	}}
	notifier := &gatedNotifier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewRefillService(store, notifier, nil, nil)

	done := make(chan error, 1)
	go func() { done <- svc.Process(context.Background(), 1) }()
	<-notifier.entered

	if err := svc.Process(context.Background(), 1); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	close(notifier.release)
	if err := <-done; err != nil {
		t.Fatalf("first Process: %v", err)
	}

	if notifier.callCount() != 1 {
		t.Fatalf("dispatch calls = %d, want 1", notifier.callCount())
	}
	if len(store.marked) != 1 {
		t.Fatalf("latch marks = %v, want exactly one", store.marked)
	}
}

func TestRefillProcessUnknownSchedule(t *testing.T) {
	store := &fakeStore{}
	svc := NewRefillService(store, &fakeNotifier{}, nil, nil)
	if err := svc.Process(context.Background(), 42); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a deleted schedule, got %v", err)
	}
}
