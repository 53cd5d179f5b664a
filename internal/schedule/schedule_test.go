package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"autodev/internal/orchestrator"
	"autodev/internal/types"
)

type fakeRunner struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeRunner) Start(ctx context.Context) (*types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.Run{ID: "r1", Status: types.StatusCompleted}, nil
}

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 3 * * *", false},    // 3 AM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
		{"* * * * * *", true}, // six fields
	}

	for _, tt := range tests {
		_, err := Parse(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNewRejectsBadExpression(t *testing.T) {
	if _, err := New(&fakeRunner{}, "not-cron"); err == nil {
		t.Error("New should reject an invalid expression")
	}
}

func TestNextRunIsInTheFuture(t *testing.T) {
	s, err := New(&fakeRunner{}, "0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}
	next := s.NextRun()
	if !next.After(time.Now()) {
		t.Errorf("NextRun = %v, want a future time", next)
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("NextRun = %v, want 03:00", next)
	}
}

func TestFireSwallowsBusyAndBudgetRejections(t *testing.T) {
	for _, rejection := range []error{orchestrator.ErrRunActive, orchestrator.ErrDailyBudget} {
		runner := &fakeRunner{err: rejection}
		s, err := New(runner, "0 3 * * *")
		if err != nil {
			t.Fatal(err)
		}

		// fire must not panic or propagate; the run is simply skipped.
		s.fire(context.Background())
		if runner.calls != 1 {
			t.Errorf("runner calls = %d, want 1", runner.calls)
		}
		if s.LastFire().IsZero() {
			t.Error("LastFire not recorded")
		}
	}
}

func TestReload(t *testing.T) {
	s, err := New(&fakeRunner{}, "0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Reload("0 4 * * *"); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if s.Expression() != "0 4 * * *" {
		t.Errorf("expression = %q after reload", s.Expression())
	}
	if s.NextRun().Hour() != 4 {
		t.Errorf("NextRun hour = %d, want 4", s.NextRun().Hour())
	}

	if err := s.Reload("garbage"); err == nil {
		t.Error("Reload should reject an invalid expression")
	}
	if s.Expression() != "0 4 * * *" {
		t.Error("failed reload must not change the active expression")
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeRunner{}, "0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	// Stop on a stopped scheduler is a no-op.
	s.Stop()
}

func TestStartReturnsOnContextCancel(t *testing.T) {
	s, err := New(&fakeRunner{}, "0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
