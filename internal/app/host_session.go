package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/lifecycle"
	"live-quiz-service/internal/store"
)

// BankRepository loads question banks (cached, Postgres-backed, or static).
type BankRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// HostSession owns the authoring queue, the broadcast action and result
// visibility. The queue is local-only and lost on disconnect; no durability
// is promised for unbroadcast drafts.
type HostSession struct {
	store     store.Store
	banks     BankRepository
	lifecycle *lifecycle.Controller

	mu       sync.Mutex
	queue    []domain.Draft
	inflight bool
}

// NewHostSession builds a host session. banks may be nil when no question
// bank is configured.
func NewHostSession(st store.Store, banks BankRepository, lc *lifecycle.Controller) *HostSession {
	return &HostSession{store: st, banks: banks, lifecycle: lc}
}

// Observe feeds the session the latest view so its lifecycle controller
// tracks the current question.
func (h *HostSession) Observe(view View) {
	h.lifecycle.Observe(view.Questions)
}

// Lifecycle exposes the session's state machine for rendering.
func (h *HostSession) Lifecycle() *lifecycle.Controller {
	return h.lifecycle
}

// Enqueue validates a draft and appends it to the authoring queue.
func (h *HostSession) Enqueue(draft domain.Draft) error {
	if err := draft.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.queue = append(h.queue, draft)
	h.mu.Unlock()
	return nil
}

// Queue returns a copy of the pending drafts.
func (h *HostSession) Queue() []domain.Draft {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Draft(nil), h.queue...)
}

// Broadcast publishes the head of the queue with a server-assigned creation
// timestamp and removes it on success. At most one broadcast is in flight at
// a time; a failed write keeps the draft queued.
func (h *HostSession) Broadcast(ctx context.Context) (domain.Question, error) {
	h.mu.Lock()
	if h.inflight {
		h.mu.Unlock()
		return domain.Question{}, domain.ErrBroadcastInFlight
	}
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return domain.Question{}, domain.ErrQueueEmpty
	}
	head := h.queue[0]
	h.inflight = true
	h.mu.Unlock()

	question, err := h.store.PublishQuestion(ctx, head)

	h.mu.Lock()
	h.inflight = false
	if err == nil {
		h.queue = h.queue[1:]
	}
	h.mu.Unlock()

	if err != nil {
		return domain.Question{}, err
	}
	log.Info().Str("question_id", question.ID).Str("text", question.Text).Msg("question broadcast")
	return question, nil
}

// RevealResults makes the tally and winner visible to the host view.
func (h *HostSession) RevealResults() {
	h.lifecycle.ShowResults()
}

// HideResults hides them again.
func (h *HostSession) HideResults() {
	h.lifecycle.HideResults()
}

// LoadBank appends a question bank's drafts to the queue, skipping any that
// fail authoring validation. Returns how many were enqueued.
func (h *HostSession) LoadBank(ctx context.Context, bankID string) (int, error) {
	if h.banks == nil {
		return 0, domain.ErrBankNotFound
	}
	bank, err := h.banks.GetBank(ctx, bankID)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, draft := range bank.Drafts {
		if err := h.Enqueue(draft); err != nil {
			log.Warn().Str("bank_id", bankID).Str("text", draft.Text).Err(err).Msg("skipping invalid bank draft")
			continue
		}
		enqueued++
	}
	return enqueued, nil
}
