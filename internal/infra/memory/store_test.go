package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/domain"
)

func draft() domain.Draft {
	return domain.Draft{
		Text:         "What is the powerhouse of the cell?",
		Options:      []string{"Mitochondria", "Ribosome", "Nucleus", "Golgi"},
		CorrectIndex: 0,
	}
}

func TestPublishQuestionAssignsServerTimestamp(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	s := NewStore(clock)

	q, err := s.PublishQuestion(context.Background(), draft())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if q.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !q.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("expected store clock timestamp, got %v", q.CreatedAt)
	}
	if q.CorrectAnswer != "Mitochondria" {
		t.Fatalf("expected correct answer resolved from draft, got %q", q.CorrectAnswer)
	}
}

func TestWatchQuestionsFiresImmediatelyThenOnChange(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock)
	ctx := context.Background()

	ch, cancel, err := s.WatchQuestions(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if initial := recv(t, ch); len(initial) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(initial))
	}

	if _, err := s.PublishQuestion(ctx, draft()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if updated := recv(t, ch); len(updated) != 1 {
		t.Fatalf("expected one question after publish, got %d", len(updated))
	}
}

func TestWatchAnswersOrdersByTimestamp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock)
	ctx := context.Background()

	q, _ := s.PublishQuestion(ctx, draft())

	if _, err := s.SubmitAnswer(ctx, q.ID, "Alice", "Ribosome"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := s.SubmitAnswer(ctx, q.ID, "Bob", "Mitochondria"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ch, cancel, err := s.WatchAnswers(ctx, q.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	answers := recv(t, ch)
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	if answers[0].StudentName != "Alice" || answers[1].StudentName != "Bob" {
		t.Fatalf("expected timestamp order, got %+v", answers)
	}
}

func TestWatchAllAnswersGroupsByQuestion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock)
	ctx := context.Background()

	q1, _ := s.PublishQuestion(ctx, draft())
	clock.Advance(time.Minute)
	q2, _ := s.PublishQuestion(ctx, draft())

	_, _ = s.SubmitAnswer(ctx, q1.ID, "Alice", "Ribosome")
	_, _ = s.SubmitAnswer(ctx, q2.ID, "Alice", "Mitochondria")

	ch, cancel, err := s.WatchAllAnswers(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	all := recv(t, ch)
	if len(all[q1.ID]) != 1 || len(all[q2.ID]) != 1 {
		t.Fatalf("expected one answer per question, got %+v", all)
	}
}

func TestWatchPlayersKeepsJoinOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock)
	ctx := context.Background()

	_, _ = s.AddPlayer(ctx, "Alice")
	clock.Advance(time.Second)
	_, _ = s.AddPlayer(ctx, "Bob")

	ch, cancel, err := s.WatchPlayers(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	players := recv(t, ch)
	if len(players) != 2 || players[0].Name != "Alice" || players[1].Name != "Bob" {
		t.Fatalf("expected join order, got %+v", players)
	}
}

func TestCancelStopsWatch(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())
	ctx := context.Background()

	ch, cancel, err := s.WatchQuestions(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	recv(t, ch)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected channel to close after cancel")
		}
	}
}

func TestWatchHealthAlwaysConnected(t *testing.T) {
	s := NewStore(clockwork.NewFakeClock())

	ch, cancel, err := s.WatchHealth(context.Background())
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if h := <-ch; !h.Connected {
		t.Fatalf("memory store must report connected")
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		panic("unreachable")
	}
}
