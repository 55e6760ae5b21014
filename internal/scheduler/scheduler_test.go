package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type blockingEngine struct {
	mu      sync.Mutex
	started int
	release chan struct{}
}

func (e *blockingEngine) EvaluateTick(context.Context, time.Time) (int, error) {
	e.mu.Lock()
	e.started++
	e.mu.Unlock()
	if e.release != nil {
		<-e.release
	}
	return 0, nil
}

func (e *blockingEngine) startedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

type fakeMaintainer struct {
	purged  int64
	cutoffs []time.Time
	err     error
}

func (m *fakeMaintainer) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.purged, m.err
}

type fakeTokenPurger struct{ calls int }

func (p *fakeTokenPurger) PurgeExpired(context.Context, time.Time) (int64, error) {
	p.calls++
	return 1, nil
}

type fakeSweeper struct{ calls int }

func (s *fakeSweeper) DeactivateEmpty(context.Context) (int64, error) {
	s.calls++
	return 2, nil
}

func TestRunTickSkipsWhileRunning(t *testing.T) {
	eng := &blockingEngine{release: make(chan struct{})}
	s := New(eng, &fakeMaintainer{}, &fakeTokenPurger{}, &fakeSweeper{}, nil, Options{})

	s.runTick(context.Background())
	// Wait for the tick goroutine to actually start.
	deadline := time.After(time.Second)
	for eng.startedCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("tick never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// A second fire while the first still runs must be dropped.
	s.runTick(context.Background())
	time.Sleep(10 * time.Millisecond)
	if got := eng.startedCount(); got != 1 {
		t.Fatalf("started = %d, want 1 while the first tick holds the slot", got)
	}

	close(eng.release)
	deadline = time.After(time.Second)
	for s.ticking.Load() {
		select {
		case <-deadline:
			t.Fatal("tick slot never released")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// With the slot free, the next fire runs.
	s.runTick(context.Background())
	deadline = time.After(time.Second)
	for eng.startedCount() != 2 {
		select {
		case <-deadline:
			t.Fatalf("started = %d after release, want 2", eng.startedCount())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRunMaintenanceUsesRetentionCutoff(t *testing.T) {
	m := &fakeMaintainer{purged: 3}
	tokens := &fakeTokenPurger{}
	s := New(&blockingEngine{}, m, tokens, &fakeSweeper{}, nil, Options{
		LogRetention: 48 * time.Hour,
	})

	before := time.Now().UTC().Add(-48 * time.Hour)
	s.runMaintenance(context.Background())
	after := time.Now().UTC().Add(-48 * time.Hour)

	if len(m.cutoffs) != 1 {
		t.Fatalf("purge calls = %d, want 1", len(m.cutoffs))
	}
	if c := m.cutoffs[0]; c.Before(before) || c.After(after) {
		t.Fatalf("cutoff %v not 48h before now", c)
	}
	if tokens.calls != 1 {
		t.Fatalf("token purges = %d, want 1", tokens.calls)
	}
}

func TestRunMaintenancePurgeErrorDoesNotStopTokens(t *testing.T) {
	m := &fakeMaintainer{err: errors.New("table locked")}
	tokens := &fakeTokenPurger{}
	s := New(&blockingEngine{}, m, tokens, &fakeSweeper{}, nil, Options{})

	s.runMaintenance(context.Background())
	if tokens.calls != 1 {
		t.Fatal("a log purge failure must not skip the token purge")
	}
}

func TestRunSweep(t *testing.T) {
	sw := &fakeSweeper{}
	s := New(&blockingEngine{}, &fakeMaintainer{}, &fakeTokenPurger{}, sw, nil, Options{})
	s.runSweep(context.Background())
	if sw.calls != 1 {
		t.Fatalf("sweeps = %d, want 1", sw.calls)
	}
}

func TestOptionDefaults(t *testing.T) {
	s := New(&blockingEngine{}, &fakeMaintainer{}, &fakeTokenPurger{}, &fakeSweeper{}, nil, Options{})
	if s.opts.TickInterval != 60*time.Second {
		t.Fatalf("TickInterval = %v", s.opts.TickInterval)
	}
	if s.opts.MaintenanceInterval != 24*time.Hour {
		t.Fatalf("MaintenanceInterval = %v", s.opts.MaintenanceInterval)
	}
	if s.opts.SweepInterval != time.Hour {
		t.Fatalf("SweepInterval = %v", s.opts.SweepInterval)
	}
	if s.opts.LogRetention != 90*24*time.Hour {
		t.Fatalf("LogRetention = %v", s.opts.LogRetention)
	}
}
