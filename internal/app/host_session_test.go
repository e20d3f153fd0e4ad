package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/lifecycle"
)

func newHost(t *testing.T) (*app.HostSession, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	st := memory.NewStore(clock)
	banks := memory.NewBankRepository(memory.NewStaticBankLoader(map[string]domain.QuestionBank{
		"bank-1": {
			ID: "bank-1",
			Drafts: []domain.Draft{
				sampleDraft(),
				{Text: "", Options: []string{"A", "B"}, CorrectIndex: 0}, // invalid, skipped
			},
		},
	}), time.Minute)
	host := app.NewHostSession(st, banks, lifecycle.New(clock, 15*time.Second))
	t.Cleanup(host.Lifecycle().Stop)
	return host, st, clock
}

func TestEnqueueValidation(t *testing.T) {
	host, _, _ := newHost(t)

	cases := []struct {
		name  string
		draft domain.Draft
		want  error
	}{
		{"empty text", domain.Draft{Text: " ", Options: []string{"A", "B"}, CorrectIndex: 0}, domain.ErrEmptyQuestionText},
		{"too few options", domain.Draft{Text: "q", Options: []string{"A"}, CorrectIndex: 0}, domain.ErrTooFewOptions},
		{"blank option", domain.Draft{Text: "q", Options: []string{"A", " "}, CorrectIndex: 0}, domain.ErrEmptyOption},
		{"no correct option", domain.Draft{Text: "q", Options: []string{"A", "B"}, CorrectIndex: 4}, domain.ErrNoCorrectOption},
	}
	for _, tc := range cases {
		if err := host.Enqueue(tc.draft); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if len(host.Queue()) != 0 {
		t.Fatalf("invalid drafts must not be queued")
	}

	if err := host.Enqueue(sampleDraft()); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}
	if len(host.Queue()) != 1 {
		t.Fatalf("expected one queued draft")
	}
}

func TestBroadcastPopsQueue(t *testing.T) {
	host, st, _ := newHost(t)
	ctx := context.Background()

	if _, err := host.Broadcast(ctx); !errors.Is(err, domain.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}

	if err := host.Enqueue(sampleDraft()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	question, err := host.Broadcast(ctx)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if question.CorrectAnswer != "4" {
		t.Fatalf("expected resolved correct answer, got %q", question.CorrectAnswer)
	}
	if len(host.Queue()) != 0 {
		t.Fatalf("broadcast must remove the draft from the queue")
	}

	// The question actually reached the store.
	ch, cancel, err := st.WatchQuestions(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	select {
	case questions := <-ch:
		if len(questions) != 1 || questions[0].ID != question.ID {
			t.Fatalf("expected broadcast question in store, got %+v", questions)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out reading store snapshot")
	}
}

func TestResultsVisibilityResetsOnNewBroadcast(t *testing.T) {
	host, _, clock := newHost(t)
	ctx := context.Background()

	_ = host.Enqueue(sampleDraft())
	_ = host.Enqueue(sampleDraft())

	q1, err := host.Broadcast(ctx)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	host.Observe(app.View{Questions: []domain.Question{q1}, Question: q1, HasQuestion: true})

	host.RevealResults()
	if !host.Lifecycle().State().ResultsVisible {
		t.Fatalf("expected results visible")
	}

	clock.Advance(time.Second)
	q2, err := host.Broadcast(ctx)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	host.Observe(app.View{Questions: []domain.Question{q1, q2}, Question: q2, HasQuestion: true})

	state := host.Lifecycle().State()
	if state.ResultsVisible {
		t.Fatalf("new broadcast must hide results")
	}
	if state.Question.ID != q2.ID || state.Phase != lifecycle.Open {
		t.Fatalf("expected q2 open, got %+v", state)
	}
}

func TestLoadBankSkipsInvalidDrafts(t *testing.T) {
	host, _, _ := newHost(t)

	enqueued, err := host.LoadBank(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("load bank: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("expected 1 valid draft enqueued, got %d", enqueued)
	}

	if _, err := host.LoadBank(context.Background(), "missing"); !errors.Is(err, domain.ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound, got %v", err)
	}
}
