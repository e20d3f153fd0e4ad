// Package lifecycle tracks the per-client question state machine: which
// question is current, whether its answer window is still open, and whether
// the host has revealed results.
package lifecycle

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/domain"
)

// Phase is the answer-window state of the current question.
type Phase int

const (
	// NoQuestion means nothing has been broadcast in this session's observation window.
	NoQuestion Phase = iota
	// Open means a question is live and accepting answers.
	Open
	// Locked means the countdown expired. Advisory only: the store still
	// accepts late writes, callers enforce the cutoff themselves.
	Locked
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "open"
	case Locked:
		return "locked"
	default:
		return "no-question"
	}
}

// State is a snapshot of the controller, safe to hand to renderers.
type State struct {
	Phase          Phase
	Question       domain.Question
	HasQuestion    bool
	ResultsVisible bool
}

// Controller drives the question lifecycle for one client. A new broadcast
// resets everything: phase back to Open, results hidden, countdown restarted.
type Controller struct {
	clock     clockwork.Clock
	countdown time.Duration

	mu             sync.Mutex
	current        domain.Question
	hasCurrent     bool
	phase          Phase
	resultsVisible bool
	timerGen       int
	timerStop      chan struct{}
	subscribers    map[chan State]struct{}
}

// New builds a controller. A zero or negative countdown disables locking and
// questions stay open until superseded.
func New(clock clockwork.Clock, countdown time.Duration) *Controller {
	return &Controller{
		clock:       clock,
		countdown:   countdown,
		phase:       NoQuestion,
		subscribers: make(map[chan State]struct{}),
	}
}

// Observe feeds the controller a fresh questions snapshot. It keys off the
// single most-recently-created question; an accumulating list never matters
// because exactly one question is ever current. Returns true when the current
// question changed.
func (c *Controller) Observe(questions []domain.Question) bool {
	latest, ok := domain.Latest(questions)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok {
		if !c.hasCurrent && c.phase == NoQuestion {
			return false
		}
		// The store reports zero questions: back to the explicit empty state.
		c.stopTimerLocked()
		c.current = domain.Question{}
		c.hasCurrent = false
		c.phase = NoQuestion
		c.resultsVisible = false
		c.broadcastLocked()
		return true
	}

	if c.hasCurrent && c.current.ID == latest.ID {
		return false
	}

	c.current = latest
	c.hasCurrent = true
	c.phase = Open
	c.resultsVisible = false
	c.restartTimerLocked()
	c.broadcastLocked()
	return true
}

// ShowResults makes results visible. Host-only, independent of Open/Locked.
func (c *Controller) ShowResults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasCurrent || c.resultsVisible {
		return
	}
	c.resultsVisible = true
	c.broadcastLocked()
}

// HideResults hides results again.
func (c *Controller) HideResults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resultsVisible {
		return
	}
	c.resultsVisible = false
	c.broadcastLocked()
}

// CanSubmit reports whether the current question still accepts answers.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == Open
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Subscribe returns a channel fed the current state immediately and on every
// transition. The caller must invoke cancel to avoid leaks.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	initial := c.stateLocked()
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

// Stop cancels the countdown timer. The controller remains readable.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Phase:          c.phase,
		Question:       c.current,
		HasQuestion:    c.hasCurrent,
		ResultsVisible: c.resultsVisible,
	}
}

func (c *Controller) broadcastLocked() {
	state := c.stateLocked()
	for ch := range c.subscribers {
		select {
		case ch <- state:
		default:
			// Slow subscriber: replace the stale state instead of blocking.
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

func (c *Controller) restartTimerLocked() {
	c.stopTimerLocked()
	if c.countdown <= 0 {
		return
	}

	c.timerGen++
	gen := c.timerGen
	timer := c.clock.NewTimer(c.countdown)
	stop := make(chan struct{})
	c.timerStop = stop

	go func() {
		select {
		case <-timer.Chan():
			c.lockQuestion(gen)
		case <-stop:
			stopAndDrainTimer(timer)
		}
	}()
}

func (c *Controller) lockQuestion(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A newer broadcast may have restarted the countdown while this timer fired.
	if gen != c.timerGen || c.phase != Open {
		return
	}
	c.phase = Locked
	c.broadcastLocked()
}

func (c *Controller) stopTimerLocked() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so the waiting
// goroutine never leaks a buffered tick.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
