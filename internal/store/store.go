// Package store defines the contract for the shared real-time quiz store: a
// key-tree keyed as questions/{id}, answers/{questionId}/{answerId} and
// players/{playerId}, with subscribe-on-change reads and server-assigned
// write timestamps.
package store

import (
	"context"

	"live-quiz-service/internal/domain"
)

// Health describes store connectivity. A store that loses its backend keeps
// retrying and reports Connected=false in the meantime; nothing is fatal.
type Health struct {
	Connected bool
	Err       error
}

// Store is the shared quiz state. Watch methods deliver the current snapshot
// immediately, then a fresh snapshot on every change under the watched
// subtree, until cancel is called. Snapshots are value copies; callers may
// retain them. Timestamps (CreatedAt, Timestamp, JoinedAt) come from the
// store's clock at commit time so that "fastest answer" cannot be gamed by a
// client clock.
type Store interface {
	// PublishQuestion writes a new question built from the draft and returns
	// it with its generated ID and server-assigned CreatedAt.
	PublishQuestion(ctx context.Context, draft domain.Draft) (domain.Question, error)
	// SubmitAnswer appends an answer under the question's subtree with a
	// generated ID and server-assigned timestamp. The store does not enforce
	// one answer per student; that guard lives in the participant session.
	SubmitAnswer(ctx context.Context, questionID, studentName, option string) (domain.Answer, error)
	// AddPlayer appends a lobby registration.
	AddPlayer(ctx context.Context, name string) (domain.Player, error)

	// WatchQuestions streams all questions ordered by CreatedAt.
	WatchQuestions(ctx context.Context) (<-chan []domain.Question, func(), error)
	// WatchAnswers streams the answers for one question ordered by timestamp.
	WatchAnswers(ctx context.Context, questionID string) (<-chan []domain.Answer, func(), error)
	// WatchAllAnswers streams every answer subtree keyed by question ID.
	WatchAllAnswers(ctx context.Context) (<-chan map[string][]domain.Answer, func(), error)
	// WatchPlayers streams the lobby ordered by join time.
	WatchPlayers(ctx context.Context) (<-chan []domain.Player, func(), error)
	// WatchHealth streams connectivity transitions, current state first.
	WatchHealth(ctx context.Context) (<-chan Health, func(), error)
}
