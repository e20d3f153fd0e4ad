package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewStore(client), mr
}

func draft() domain.Draft {
	return domain.Draft{
		Text:         "What is the powerhouse of the cell?",
		Options:      []string{"Mitochondria", "Ribosome", "Nucleus", "Golgi"},
		CorrectIndex: 0,
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		panic("unreachable")
	}
}

func TestPublishQuestionRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	mr.SetTime(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	published, err := s.PublishQuestion(ctx, draft())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.CorrectAnswer != "Mitochondria" {
		t.Fatalf("expected resolved correct answer, got %q", published.CorrectAnswer)
	}

	ch, cancel, err := s.WatchQuestions(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	questions := recv(t, ch)
	if len(questions) != 1 || questions[0].ID != published.ID {
		t.Fatalf("expected published question in snapshot, got %+v", questions)
	}
	if questions[0].CreatedAt.IsZero() {
		t.Fatalf("expected a server-assigned timestamp")
	}
}

func TestWatchQuestionsSeesNewBroadcast(t *testing.T) {
	s, _ := newTestStore(t)
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

	deadline := time.After(3 * time.Second)
	for {
		select {
		case questions := <-ch:
			if len(questions) == 1 {
				return
			}
		case <-deadline:
			t.Fatalf("never saw the broadcast question")
		}
	}
}

func TestAnswersOrderedByServerTime(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.SetTime(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	q, err := s.PublishQuestion(ctx, draft())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	mr.SetTime(time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC))
	if _, err := s.SubmitAnswer(ctx, q.ID, "Alice", "Ribosome"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	mr.SetTime(time.Date(2025, 6, 1, 10, 0, 9, 0, time.UTC))
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
		t.Fatalf("expected server-time order, got %+v", answers)
	}
}

func TestWatchAllAnswersIndexesQuestions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	q1, _ := s.PublishQuestion(ctx, draft())
	q2, _ := s.PublishQuestion(ctx, draft())
	_, _ = s.SubmitAnswer(ctx, q1.ID, "Alice", "Ribosome")
	_, _ = s.SubmitAnswer(ctx, q2.ID, "Bob", "Mitochondria")

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

func TestMalformedRecordsAreDropped(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.PublishQuestion(ctx, draft()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mr.HSet(questionsKey, "broken", "{not json")

	questions, err := s.loadQuestions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected malformed record quarantined, got %d", len(questions))
	}
}

func TestPlayersKeepJoinOrder(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.SetTime(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	if _, err := s.AddPlayer(ctx, "Alice"); err != nil {
		t.Fatalf("add player: %v", err)
	}
	mr.SetTime(time.Date(2025, 6, 1, 10, 0, 2, 0, time.UTC))
	if _, err := s.AddPlayer(ctx, "Bob"); err != nil {
		t.Fatalf("add player: %v", err)
	}

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
