// Package app composes the scoring engine, the lifecycle controller and the
// store into the host and participant use cases.
package app

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/scoring"
	"live-quiz-service/internal/store"
)

// View is one consistent projection of the whole quiz: the latest snapshot of
// every subtree plus everything derived from them. Recomputed wholesale on
// any change; there is no incremental state to corrupt.
type View struct {
	Connected bool

	Questions   []domain.Question
	Question    domain.Question
	HasQuestion bool

	Tally        domain.VoteTally
	TotalAnswers int
	Winner       *domain.Answer

	Players     []domain.Player
	Leaderboard []domain.LeaderboardEntry
}

// Coordinator flattens the three store subscriptions into a single reactive
// projection. It holds the latest snapshot of questions, answers and players
// and rebuilds derived views from those, instead of the nested-subscription
// pyramid this replaces.
type Coordinator struct {
	store store.Store

	mu        sync.RWMutex
	questions []domain.Question
	answers   map[string][]domain.Answer
	players   []domain.Player
	connected bool

	subscribers map[chan View]struct{}
	cancels     []func()
	started     bool
}

func NewCoordinator(st store.Store) *Coordinator {
	return &Coordinator{
		store:       st,
		answers:     make(map[string][]domain.Answer),
		subscribers: make(map[chan View]struct{}),
	}
}

// Start opens the store subscriptions. Stop releases them.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	questions, cancelQuestions, err := c.store.WatchQuestions(ctx)
	if err != nil {
		return err
	}
	answers, cancelAnswers, err := c.store.WatchAllAnswers(ctx)
	if err != nil {
		cancelQuestions()
		return err
	}
	players, cancelPlayers, err := c.store.WatchPlayers(ctx)
	if err != nil {
		cancelQuestions()
		cancelAnswers()
		return err
	}
	health, cancelHealth, err := c.store.WatchHealth(ctx)
	if err != nil {
		cancelQuestions()
		cancelAnswers()
		cancelPlayers()
		return err
	}

	c.mu.Lock()
	c.cancels = []func(){cancelQuestions, cancelAnswers, cancelPlayers, cancelHealth}
	c.mu.Unlock()

	go func() {
		for snapshot := range questions {
			c.mu.Lock()
			c.questions = snapshot
			c.broadcastLocked()
			c.mu.Unlock()
		}
	}()
	go func() {
		for snapshot := range answers {
			c.mu.Lock()
			c.answers = snapshot
			c.broadcastLocked()
			c.mu.Unlock()
		}
	}()
	go func() {
		for snapshot := range players {
			c.mu.Lock()
			c.players = snapshot
			c.broadcastLocked()
			c.mu.Unlock()
		}
	}()
	go func() {
		for h := range health {
			c.mu.Lock()
			c.connected = h.Connected
			c.broadcastLocked()
			c.mu.Unlock()
		}
	}()
	return nil
}

// Stop cancels all store subscriptions.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// View returns the current derived projection.
func (c *Coordinator) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked()
}

// Subscribe returns a channel fed the current view immediately, then on every
// change to any subtree. The caller must invoke cancel to avoid leaks.
func (c *Coordinator) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 8)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	initial := c.viewLocked()
	c.mu.Unlock()

	ch <- initial

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Coordinator) broadcastLocked() {
	view := c.viewLocked()
	for ch := range c.subscribers {
		select {
		case ch <- view:
		default:
			// Drop the stale view so a slow consumer never blocks the rest.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

func (c *Coordinator) viewLocked() View {
	view := View{
		Connected:   c.connected,
		Questions:   c.questions,
		Players:     c.players,
		Leaderboard: scoring.Leaderboard(c.players, c.answers, c.questions),
	}

	current, ok := domain.Latest(c.questions)
	if !ok {
		return view
	}
	view.Question = current
	view.HasQuestion = true

	answers := c.answers[current.ID]
	view.Tally = scoring.Tally(current, answers)
	view.TotalAnswers = len(scoring.FirstAnswers(answers))
	if winner, ok := scoring.Winner(current, answers); ok {
		view.Winner = &winner
	}
	return view
}
