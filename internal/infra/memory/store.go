// Package memory provides the in-process implementations used by tests and
// single-node demo mode: the quiz store and the question bank.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/store"
)

// Store is an in-memory store.Store. Server timestamps come from the injected
// clock, so tests drive them deterministically with a fake clock.
type Store struct {
	clock clockwork.Clock

	mu        sync.RWMutex
	questions map[string]domain.Question
	answers   map[string]map[string]domain.Answer
	players   map[string]domain.Player

	questionsFan *fanout
	answersFan   *fanout
	playersFan   *fanout
}

// NewStore builds an empty store around the given clock.
func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock:        clock,
		questions:    make(map[string]domain.Question),
		answers:      make(map[string]map[string]domain.Answer),
		players:      make(map[string]domain.Player),
		questionsFan: newFanout(),
		answersFan:   newFanout(),
		playersFan:   newFanout(),
	}
}

func (s *Store) PublishQuestion(_ context.Context, draft domain.Draft) (domain.Question, error) {
	question := domain.Question{
		ID:            uuid.NewString(),
		Text:          draft.Text,
		Options:       append([]string(nil), draft.Options...),
		CorrectAnswer: draft.CorrectAnswer(),
		CreatedAt:     s.clock.Now(),
	}

	s.mu.Lock()
	s.questions[question.ID] = question
	s.mu.Unlock()

	s.questionsFan.wake()
	return question, nil
}

func (s *Store) SubmitAnswer(_ context.Context, questionID, studentName, option string) (domain.Answer, error) {
	answer := domain.Answer{
		ID:          uuid.NewString(),
		StudentName: studentName,
		Answer:      option,
		Timestamp:   s.clock.Now(),
	}

	s.mu.Lock()
	if s.answers[questionID] == nil {
		s.answers[questionID] = make(map[string]domain.Answer)
	}
	s.answers[questionID][answer.ID] = answer
	s.mu.Unlock()

	s.answersFan.wake()
	return answer, nil
}

func (s *Store) AddPlayer(_ context.Context, name string) (domain.Player, error) {
	player := domain.Player{
		ID:       uuid.NewString(),
		Name:     name,
		JoinedAt: s.clock.Now(),
	}

	s.mu.Lock()
	s.players[player.ID] = player
	s.mu.Unlock()

	s.playersFan.wake()
	return player, nil
}

func (s *Store) WatchQuestions(ctx context.Context) (<-chan []domain.Question, func(), error) {
	ch, cancel := watch(ctx, s.questionsFan, s.questionsSnapshot)
	return ch, cancel, nil
}

func (s *Store) WatchAnswers(ctx context.Context, questionID string) (<-chan []domain.Answer, func(), error) {
	ch, cancel := watch(ctx, s.answersFan, func() []domain.Answer {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return sortedAnswers(s.answers[questionID])
	})
	return ch, cancel, nil
}

func (s *Store) WatchAllAnswers(ctx context.Context) (<-chan map[string][]domain.Answer, func(), error) {
	ch, cancel := watch(ctx, s.answersFan, func() map[string][]domain.Answer {
		s.mu.RLock()
		defer s.mu.RUnlock()
		all := make(map[string][]domain.Answer, len(s.answers))
		for questionID, byID := range s.answers {
			all[questionID] = sortedAnswers(byID)
		}
		return all
	})
	return ch, cancel, nil
}

func (s *Store) WatchPlayers(ctx context.Context) (<-chan []domain.Player, func(), error) {
	ch, cancel := watch(ctx, s.playersFan, func() []domain.Player {
		s.mu.RLock()
		defer s.mu.RUnlock()
		players := make([]domain.Player, 0, len(s.players))
		for _, p := range s.players {
			players = append(players, p)
		}
		sort.Slice(players, func(i, j int) bool {
			if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
				return players[i].JoinedAt.Before(players[j].JoinedAt)
			}
			return players[i].ID < players[j].ID
		})
		return players
	})
	return ch, cancel, nil
}

// WatchHealth always reports connected; there is no backend to lose.
func (s *Store) WatchHealth(_ context.Context) (<-chan store.Health, func(), error) {
	ch := make(chan store.Health, 1)
	ch <- store.Health{Connected: true}
	return ch, func() {}, nil
}

func (s *Store) questionsSnapshot() []domain.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions := make([]domain.Question, 0, len(s.questions))
	for _, q := range s.questions {
		questions = append(questions, q)
	}
	sort.Slice(questions, func(i, j int) bool {
		if !questions[i].CreatedAt.Equal(questions[j].CreatedAt) {
			return questions[i].CreatedAt.Before(questions[j].CreatedAt)
		}
		return questions[i].ID < questions[j].ID
	})
	return questions
}

func sortedAnswers(byID map[string]domain.Answer) []domain.Answer {
	answers := make([]domain.Answer, 0, len(byID))
	for _, a := range byID {
		answers = append(answers, a)
	}
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].Timestamp.Equal(answers[j].Timestamp) {
			return answers[i].Timestamp.Before(answers[j].Timestamp)
		}
		return answers[i].ID < answers[j].ID
	})
	return answers
}

// watch delivers the current snapshot immediately, then a fresh one whenever
// the fanout wakes. Stale snapshots are dropped so a slow reader only ever
// lags by one update.
func watch[T any](ctx context.Context, fan *fanout, snapshot func() T) (<-chan T, func()) {
	out := make(chan T, 8)
	notify, unsubscribe := fan.subscribe()
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		defer close(out)
		defer unsubscribe()

		send := func(v T) {
			select {
			case out <- v:
			default:
				select {
				case <-out:
				default:
				}
				out <- v
			}
		}

		send(snapshot())
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-notify:
				send(snapshot())
			}
		}
	}()
	return out, cancel
}

// fanout is a minimal change-notification hub: subscribers get a coalesced
// wake signal, never data, and recompute their own snapshot.
type fanout struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newFanout() *fanout {
	return &fanout{subs: make(map[chan struct{}]struct{})}
}

func (f *fanout) subscribe() (chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}
}

func (f *fanout) wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
