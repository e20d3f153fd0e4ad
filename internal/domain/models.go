package domain

import (
	"strings"
	"time"
)

// Question is a broadcast multiple-choice question. Immutable once published;
// a new broadcast supersedes it, nothing is ever deleted.
type Question struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Options       []string  `json:"options"`
	CorrectAnswer string    `json:"correctAnswer,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasCorrectAnswer reports whether the question names a correct option.
// A trivia-only question with no (or an unmatched) correct answer is valid;
// it simply never produces a winner.
func (q Question) HasCorrectAnswer() bool {
	return q.CorrectAnswer != "" && q.HasOption(q.CorrectAnswer)
}

// HasOption reports whether option is one of the question's choices.
func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Latest returns the single most-recently-created question. Ties on CreatedAt
// break by ID so every observer picks the same current question.
func Latest(questions []Question) (Question, bool) {
	var latest Question
	found := false
	for _, q := range questions {
		if !found || q.CreatedAt.After(latest.CreatedAt) ||
			(q.CreatedAt.Equal(latest.CreatedAt) && q.ID > latest.ID) {
			latest = q
			found = true
		}
	}
	return latest, found
}

// Answer is one participant's submission for one question. Timestamp is
// assigned by the store's clock at commit time, never the client's.
type Answer struct {
	ID          string    `json:"id"`
	StudentName string    `json:"studentName"`
	Answer      string    `json:"answer"`
	Timestamp   time.Time `json:"timestamp"`
}

// Player is a lobby registration. Appended once per join, never removed.
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Draft is an authored-but-unbroadcast question held in the host's queue.
type Draft struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// CorrectAnswer returns the text of the selected correct option, or "" when
// the index is out of range.
func (d Draft) CorrectAnswer() string {
	if d.CorrectIndex < 0 || d.CorrectIndex >= len(d.Options) {
		return ""
	}
	return d.Options[d.CorrectIndex]
}

// Validate enforces the authoring rules: non-empty text, all options
// non-empty, and a correct option selected.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Text) == "" {
		return ErrEmptyQuestionText
	}
	if len(d.Options) < 2 {
		return ErrTooFewOptions
	}
	for _, opt := range d.Options {
		if strings.TrimSpace(opt) == "" {
			return ErrEmptyOption
		}
	}
	if d.CorrectIndex < 0 || d.CorrectIndex >= len(d.Options) {
		return ErrNoCorrectOption
	}
	return nil
}

// QuestionBank is a curated set of drafts the host can preload into its queue.
type QuestionBank struct {
	ID     string  `json:"id"`
	Title  string  `json:"title,omitempty"`
	Drafts []Draft `json:"drafts"`
}

// VoteTally maps option text to vote count for the current question.
// Every option is present, zero included, so a fresh question renders a
// fully-populated distribution.
type VoteTally map[string]int

// LeaderboardEntry is one player's cross-question standing. Score and
// CorrectAnswers are the same quantity (one point per correct answer); both
// are kept so zero-correct rows sort explicitly after scoring ones.
type LeaderboardEntry struct {
	Name           string        `json:"name"`
	Score          int           `json:"score"`
	CorrectAnswers int           `json:"correctAnswers"`
	TotalLatency   time.Duration `json:"totalLatency"`
	MeanLatency    time.Duration `json:"meanLatency"`
}
