// Package redis implements the quiz store on a Redis backend. Each subtree
// lives in a hash (questions, answers per question, players), writes are
// stamped with the Redis server clock via TIME, and change notifications fan
// out over pub/sub channels so every subscriber reloads its snapshot.
package redis

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/store"
)

const (
	questionsKey    = "quiz:questions"
	playersKey      = "quiz:players"
	answersKeyBase  = "quiz:answers:"
	answersIndexKey = "quiz:answers:index"

	questionsChannel = "quiz:changed:questions"
	answersChannel   = "quiz:changed:answers"
	playersChannel   = "quiz:changed:players"

	retryMin = 250 * time.Millisecond
	retryMax = 5 * time.Second
)

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
	health *healthHub
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, health: newHealthHub()}
}

func answersKey(questionID string) string {
	return answersKeyBase + questionID
}

// serverNow reads the Redis server clock. Client clocks never stamp writes;
// otherwise a participant could fake an early answer.
func (s *Store) serverNow(ctx context.Context) (time.Time, error) {
	return s.client.Time(ctx).Result()
}

func (s *Store) PublishQuestion(ctx context.Context, draft domain.Draft) (domain.Question, error) {
	now, err := s.serverNow(ctx)
	if err != nil {
		return domain.Question{}, err
	}
	question := domain.Question{
		ID:            uuid.NewString(),
		Text:          draft.Text,
		Options:       append([]string(nil), draft.Options...),
		CorrectAnswer: draft.CorrectAnswer(),
		CreatedAt:     now,
	}
	if err := s.writeHashField(ctx, questionsKey, question.ID, question, questionsChannel); err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

func (s *Store) SubmitAnswer(ctx context.Context, questionID, studentName, option string) (domain.Answer, error) {
	now, err := s.serverNow(ctx)
	if err != nil {
		return domain.Answer{}, err
	}
	answer := domain.Answer{
		ID:          uuid.NewString(),
		StudentName: studentName,
		Answer:      option,
		Timestamp:   now,
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return domain.Answer{}, err
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, answersKey(questionID), answer.ID, data)
	pipe.SAdd(ctx, answersIndexKey, questionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Answer{}, err
	}
	s.client.Publish(ctx, answersChannel, questionID)
	return answer, nil
}

func (s *Store) AddPlayer(ctx context.Context, name string) (domain.Player, error) {
	now, err := s.serverNow(ctx)
	if err != nil {
		return domain.Player{}, err
	}
	player := domain.Player{ID: uuid.NewString(), Name: name, JoinedAt: now}
	if err := s.writeHashField(ctx, playersKey, player.ID, player, playersChannel); err != nil {
		return domain.Player{}, err
	}
	return player, nil
}

func (s *Store) writeHashField(ctx context.Context, key, field string, value any, channel string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, field, data).Err(); err != nil {
		return err
	}
	s.client.Publish(ctx, channel, field)
	return nil
}

func (s *Store) WatchQuestions(ctx context.Context) (<-chan []domain.Question, func(), error) {
	return watch(ctx, s, questionsChannel, s.loadQuestions)
}

func (s *Store) WatchAnswers(ctx context.Context, questionID string) (<-chan []domain.Answer, func(), error) {
	return watch(ctx, s, answersChannel, func(ctx context.Context) ([]domain.Answer, error) {
		return s.loadAnswers(ctx, questionID)
	})
}

func (s *Store) WatchAllAnswers(ctx context.Context) (<-chan map[string][]domain.Answer, func(), error) {
	return watch(ctx, s, answersChannel, s.loadAllAnswers)
}

func (s *Store) WatchPlayers(ctx context.Context) (<-chan []domain.Player, func(), error) {
	return watch(ctx, s, playersChannel, s.loadPlayers)
}

func (s *Store) WatchHealth(_ context.Context) (<-chan store.Health, func(), error) {
	ch, cancel := s.health.subscribe()
	return ch, cancel, nil
}

func (s *Store) loadQuestions(ctx context.Context) ([]domain.Question, error) {
	raw, err := s.client.HGetAll(ctx, questionsKey).Result()
	if err != nil {
		return nil, err
	}
	questions := make([]domain.Question, 0, len(raw))
	for id, data := range raw {
		var q domain.Question
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			// Quarantine malformed records instead of propagating them.
			log.Warn().Str("question_id", id).Err(err).Msg("dropping malformed question record")
			continue
		}
		questions = append(questions, q)
	}
	sort.Slice(questions, func(i, j int) bool {
		if !questions[i].CreatedAt.Equal(questions[j].CreatedAt) {
			return questions[i].CreatedAt.Before(questions[j].CreatedAt)
		}
		return questions[i].ID < questions[j].ID
	})
	return questions, nil
}

func (s *Store) loadAnswers(ctx context.Context, questionID string) ([]domain.Answer, error) {
	raw, err := s.client.HGetAll(ctx, answersKey(questionID)).Result()
	if err != nil {
		return nil, err
	}
	answers := make([]domain.Answer, 0, len(raw))
	for id, data := range raw {
		var a domain.Answer
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			log.Warn().Str("answer_id", id).Err(err).Msg("dropping malformed answer record")
			continue
		}
		answers = append(answers, a)
	}
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].Timestamp.Equal(answers[j].Timestamp) {
			return answers[i].Timestamp.Before(answers[j].Timestamp)
		}
		return answers[i].ID < answers[j].ID
	})
	return answers, nil
}

func (s *Store) loadAllAnswers(ctx context.Context) (map[string][]domain.Answer, error) {
	questionIDs, err := s.client.SMembers(ctx, answersIndexKey).Result()
	if err != nil {
		return nil, err
	}
	all := make(map[string][]domain.Answer, len(questionIDs))
	for _, questionID := range questionIDs {
		answers, err := s.loadAnswers(ctx, questionID)
		if err != nil {
			return nil, err
		}
		all[questionID] = answers
	}
	return all, nil
}

func (s *Store) loadPlayers(ctx context.Context) ([]domain.Player, error) {
	raw, err := s.client.HGetAll(ctx, playersKey).Result()
	if err != nil {
		return nil, err
	}
	players := make([]domain.Player, 0, len(raw))
	for id, data := range raw {
		var p domain.Player
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			log.Warn().Str("player_id", id).Err(err).Msg("dropping malformed player record")
			continue
		}
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

// watch subscribes to a change channel and re-loads the snapshot on every
// notification. Connectivity loss is retried with capped exponential backoff
// and surfaced through the health hub; the snapshot channel stays open the
// whole time.
func watch[T any](ctx context.Context, s *Store, channel string, load func(context.Context) (T, error)) (<-chan T, func(), error) {
	out := make(chan T, 8)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		defer close(out)

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

		wait := retryMin
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			pubsub := s.client.Subscribe(ctx, channel)
			if _, err := pubsub.Receive(ctx); err != nil {
				_ = pubsub.Close()
				s.health.set(false, err)
				if !sleep(ctx, done, wait) {
					return
				}
				wait = backoff(wait)
				continue
			}

			snapshot, err := load(ctx)
			if err != nil {
				_ = pubsub.Close()
				s.health.set(false, err)
				if !sleep(ctx, done, wait) {
					return
				}
				wait = backoff(wait)
				continue
			}
			s.health.set(true, nil)
			wait = retryMin
			send(snapshot)

			if !pump(ctx, done, pubsub, load, send, s) {
				_ = pubsub.Close()
				return
			}
			_ = pubsub.Close()
			// Subscription lost: flag it and loop back into the retry path.
			s.health.set(false, nil)
			if !sleep(ctx, done, wait) {
				return
			}
			wait = backoff(wait)
		}
	}()

	return out, cancel, nil
}

// pump forwards snapshots while the subscription is healthy. Returns false
// when the watcher should exit for good.
func pump[T any](ctx context.Context, done chan struct{}, pubsub *redis.PubSub, load func(context.Context) (T, error), send func(T), s *Store) bool {
	messages := pubsub.Channel()
	for {
		select {
		case <-done:
			return false
		case <-ctx.Done():
			return false
		case _, ok := <-messages:
			if !ok {
				return true
			}
			snapshot, err := load(ctx)
			if err != nil {
				log.Warn().Str("channel", "snapshot").Err(err).Msg("reload after change failed")
				s.health.set(false, err)
				return true
			}
			s.health.set(true, nil)
			send(snapshot)
		}
	}
}

func backoff(wait time.Duration) time.Duration {
	wait *= 2
	if wait > retryMax {
		wait = retryMax
	}
	return wait
}

func sleep(ctx context.Context, done chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// healthHub coalesces connectivity transitions from all watchers into one
// stream per subscriber.
type healthHub struct {
	mu        sync.Mutex
	connected bool
	err       error
	seen      bool
	subs      map[chan store.Health]struct{}
}

func newHealthHub() *healthHub {
	return &healthHub{subs: make(map[chan store.Health]struct{})}
}

func (h *healthHub) subscribe() (<-chan store.Health, func()) {
	ch := make(chan store.Health, 8)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	current := store.Health{Connected: h.connected, Err: h.err}
	h.mu.Unlock()

	ch <- current

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *healthHub) set(connected bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen && h.connected == connected {
		return
	}
	h.seen = true
	h.connected = connected
	h.err = err
	update := store.Health{Connected: connected, Err: err}
	for ch := range h.subs {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}
