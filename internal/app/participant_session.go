package app

import (
	"context"
	"strings"
	"sync"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/lifecycle"
	"live-quiz-service/internal/store"
)

// ParticipantSession owns one participant's identity and their write-once
// answer guard. The guard is advisory and lives only here; the store accepts
// whatever it is handed, and the scoring engine dedupes defensively.
type ParticipantSession struct {
	store     store.Store
	lifecycle *lifecycle.Controller

	mu             sync.Mutex
	player         domain.Player
	joined         bool
	lastQuestionID string
	answeredID     string
	selected       string
}

func NewParticipantSession(st store.Store, lc *lifecycle.Controller) *ParticipantSession {
	return &ParticipantSession{store: st, lifecycle: lc}
}

// Join validates the trimmed name and registers a player record.
func (p *ParticipantSession) Join(ctx context.Context, name string) (domain.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Player{}, domain.ErrEmptyName
	}

	player, err := p.store.AddPlayer(ctx, name)
	if err != nil {
		return domain.Player{}, err
	}

	p.mu.Lock()
	p.player = player
	p.joined = true
	p.mu.Unlock()
	return player, nil
}

// Observe feeds the session the latest view. A new current question clears
// the local selection; the submitted latch clears implicitly because it is
// keyed by question ID.
func (p *ParticipantSession) Observe(view View) {
	p.lifecycle.Observe(view.Questions)

	p.mu.Lock()
	if view.HasQuestion && view.Question.ID != p.lastQuestionID {
		p.lastQuestionID = view.Question.ID
		p.selected = ""
	}
	p.mu.Unlock()
}

// Lifecycle exposes the session's state machine for rendering.
func (p *ParticipantSession) Lifecycle() *lifecycle.Controller {
	return p.lifecycle
}

// SubmitAnswer writes exactly one answer for the current question. Rejected
// when not joined, nothing is open, the countdown locked the question, the
// option is unknown, or an answer was already submitted.
func (p *ParticipantSession) SubmitAnswer(ctx context.Context, option string) (domain.Answer, error) {
	state := p.lifecycle.State()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.joined {
		return domain.Answer{}, domain.ErrNotJoined
	}
	if !state.HasQuestion {
		return domain.Answer{}, domain.ErrNoOpenQuestion
	}
	if state.Phase == lifecycle.Locked {
		return domain.Answer{}, domain.ErrQuestionLocked
	}
	if p.answeredID == state.Question.ID {
		return domain.Answer{}, domain.ErrAlreadyAnswered
	}
	if !state.Question.HasOption(option) {
		return domain.Answer{}, domain.ErrUnknownOption
	}

	answer, err := p.store.SubmitAnswer(ctx, state.Question.ID, p.player.Name, option)
	if err != nil {
		return domain.Answer{}, err
	}
	p.answeredID = state.Question.ID
	p.selected = option
	return answer, nil
}

// Submitted reports whether this session already answered the current question.
func (p *ParticipantSession) Submitted() bool {
	state := p.lifecycle.State()
	p.mu.Lock()
	defer p.mu.Unlock()
	return state.HasQuestion && p.answeredID == state.Question.ID
}

// Selected returns the locally chosen option for the current question.
func (p *ParticipantSession) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Name returns the joined player name, empty before Join.
func (p *ParticipantSession) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.player.Name
}

// Joined reports whether Join has succeeded.
func (p *ParticipantSession) Joined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined
}
