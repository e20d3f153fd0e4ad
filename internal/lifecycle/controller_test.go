package lifecycle_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/lifecycle"
)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func q(id string, offset time.Duration) domain.Question {
	return domain.Question{
		ID:        id,
		Text:      "question " + id,
		Options:   []string{"A", "B"},
		CreatedAt: base.Add(offset),
	}
}

func waitForPhase(t *testing.T, states <-chan lifecycle.State, want lifecycle.Phase) lifecycle.State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-states:
			if state.Phase == want {
				return state
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %v", want)
		}
	}
}

func TestStartsWithNoQuestion(t *testing.T) {
	c := lifecycle.New(clockwork.NewFakeClock(), 15*time.Second)
	defer c.Stop()

	state := c.State()
	if state.Phase != lifecycle.NoQuestion || state.HasQuestion {
		t.Fatalf("expected empty initial state, got %+v", state)
	}
	if c.CanSubmit() {
		t.Fatalf("nothing to submit to yet")
	}
}

func TestObserveOpensLatestQuestion(t *testing.T) {
	c := lifecycle.New(clockwork.NewFakeClock(), 15*time.Second)
	defer c.Stop()

	if !c.Observe([]domain.Question{q("q1", 0), q("q2", time.Minute)}) {
		t.Fatalf("expected a transition")
	}
	state := c.State()
	if state.Phase != lifecycle.Open || state.Question.ID != "q2" {
		t.Fatalf("expected q2 open, got %+v", state)
	}

	// Same snapshot again is a no-op.
	if c.Observe([]domain.Question{q("q1", 0), q("q2", time.Minute)}) {
		t.Fatalf("unchanged snapshot must not transition")
	}
}

func TestCountdownLocks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := lifecycle.New(clock, 10*time.Second)
	defer c.Stop()

	states, cancel := c.Subscribe()
	defer cancel()

	c.Observe([]domain.Question{q("q1", 0)})
	waitForPhase(t, states, lifecycle.Open)

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	waitForPhase(t, states, lifecycle.Locked)
	if c.CanSubmit() {
		t.Fatalf("locked question must not accept answers")
	}
}

func TestNewBroadcastResetsEverything(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := lifecycle.New(clock, 10*time.Second)
	defer c.Stop()

	states, cancel := c.Subscribe()
	defer cancel()

	c.Observe([]domain.Question{q("q1", 0)})
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	waitForPhase(t, states, lifecycle.Locked)

	c.ShowResults()
	if !c.State().ResultsVisible {
		t.Fatalf("expected results visible")
	}

	// Broadcasting q2 while q1 shows results reopens and hides results.
	c.Observe([]domain.Question{q("q1", 0), q("q2", time.Minute)})
	state := c.State()
	if state.Phase != lifecycle.Open || state.Question.ID != "q2" || state.ResultsVisible {
		t.Fatalf("expected fresh open q2 with hidden results, got %+v", state)
	}
	if !c.CanSubmit() {
		t.Fatalf("new question must accept answers")
	}
}

func TestStaleTimerDoesNotLockNewQuestion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := lifecycle.New(clock, 10*time.Second)
	defer c.Stop()

	c.Observe([]domain.Question{q("q1", 0)})
	clock.BlockUntil(1)

	// q2 arrives before q1's countdown expires; only q2's timer may lock.
	c.Observe([]domain.Question{q("q1", 0), q("q2", time.Minute)})
	clock.BlockUntil(1)
	clock.Advance(9 * time.Second)

	if state := c.State(); state.Phase != lifecycle.Open {
		t.Fatalf("q2 should still be open, got %+v", state)
	}
}

func TestZeroCountdownNeverLocks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := lifecycle.New(clock, 0)
	defer c.Stop()

	c.Observe([]domain.Question{q("q1", 0)})
	if !c.CanSubmit() {
		t.Fatalf("question should stay open without a countdown")
	}
}

func TestEmptySnapshotResets(t *testing.T) {
	c := lifecycle.New(clockwork.NewFakeClock(), 15*time.Second)
	defer c.Stop()

	c.Observe([]domain.Question{q("q1", 0)})
	c.Observe(nil)

	state := c.State()
	if state.Phase != lifecycle.NoQuestion || state.HasQuestion {
		t.Fatalf("expected reset to empty state, got %+v", state)
	}
}

func TestResultsToggle(t *testing.T) {
	c := lifecycle.New(clockwork.NewFakeClock(), 15*time.Second)
	defer c.Stop()

	// No current question: reveal is a no-op.
	c.ShowResults()
	if c.State().ResultsVisible {
		t.Fatalf("cannot reveal results without a question")
	}

	c.Observe([]domain.Question{q("q1", 0)})
	c.ShowResults()
	if !c.State().ResultsVisible {
		t.Fatalf("expected results visible after reveal")
	}
	c.HideResults()
	if c.State().ResultsVisible {
		t.Fatalf("expected results hidden again")
	}
}
