// Package scoring derives vote tallies, the fastest correct answer, and the
// cross-question leaderboard from answer snapshots. Everything here is a pure
// function of its inputs: no I/O, no retained state, safe to call repeatedly
// and concurrently on evolving snapshots.
package scoring

import (
	"sort"
	"time"

	"live-quiz-service/internal/domain"
)

// FirstAnswers collapses duplicate submissions: the store does not enforce
// one answer per (question, student), so each student's earliest answer by
// server timestamp (ID as tie-break) is the authoritative one. The result is
// ordered by timestamp then ID, independent of input order.
func FirstAnswers(answers []domain.Answer) []domain.Answer {
	first := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		prev, ok := first[a.StudentName]
		if !ok || a.Timestamp.Before(prev.Timestamp) ||
			(a.Timestamp.Equal(prev.Timestamp) && a.ID < prev.ID) {
			first[a.StudentName] = a
		}
	}
	out := make([]domain.Answer, 0, len(first))
	for _, a := range first {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tally counts answers per option. Every option is initialized to zero so a
// freshly broadcast question shows a complete, all-zero distribution. Answers
// that match no option are ignored as abstentions.
func Tally(question domain.Question, answers []domain.Answer) domain.VoteTally {
	tally := make(domain.VoteTally, len(question.Options))
	for _, opt := range question.Options {
		tally[opt] = 0
	}
	for _, a := range FirstAnswers(answers) {
		if _, ok := tally[a.Answer]; ok {
			tally[a.Answer]++
		}
	}
	return tally
}

// Winner returns the fastest correct answer, or false when no answer matches
// the correct option or the question has none. A correct answer naming no
// option counts as unset, the same way Leaderboard treats it. Stable under
// reordering of the input: only server timestamps (and IDs on exact ties)
// decide.
func Winner(question domain.Question, answers []domain.Answer) (domain.Answer, bool) {
	if !question.HasCorrectAnswer() {
		return domain.Answer{}, false
	}
	var winner domain.Answer
	found := false
	for _, a := range FirstAnswers(answers) {
		if a.Answer != question.CorrectAnswer {
			continue
		}
		if !found || a.Timestamp.Before(winner.Timestamp) ||
			(a.Timestamp.Equal(winner.Timestamp) && a.ID < winner.ID) {
			winner = a
			found = true
		}
	}
	return winner, found
}

// Leaderboard recomputes the full cross-question standings from scratch.
// Every registered player gets a row, zero-scored ones included. For each
// question with a correct answer, each student's first matching answer earns
// one point and accumulates (answer.Timestamp - question.CreatedAt) into
// their latency total.
//
// Ordering: score descending, zero-correct rows strictly after scoring ones,
// ties among scorers by mean latency ascending, everything else stable in
// player registration order.
func Leaderboard(players []domain.Player, answersByQuestion map[string][]domain.Answer, questions []domain.Question) []domain.LeaderboardEntry {
	index := make(map[string]int, len(players))
	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		if _, ok := index[p.Name]; ok {
			continue
		}
		index[p.Name] = len(entries)
		entries = append(entries, domain.LeaderboardEntry{Name: p.Name})
	}

	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	for questionID, answers := range answersByQuestion {
		question, ok := byID[questionID]
		if !ok || !question.HasCorrectAnswer() {
			continue
		}
		for _, a := range FirstAnswers(answers) {
			if a.Answer != question.CorrectAnswer {
				continue
			}
			i, ok := index[a.StudentName]
			if !ok {
				// Answers from names that never joined the lobby do not rank.
				continue
			}
			entries[i].Score++
			entries[i].CorrectAnswers++
			entries[i].TotalLatency += a.Timestamp.Sub(question.CreatedAt)
		}
	}

	for i := range entries {
		if entries[i].CorrectAnswers > 0 {
			entries[i].MeanLatency = entries[i].TotalLatency / time.Duration(entries[i].CorrectAnswers)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CorrectAnswers == 0 || b.CorrectAnswers == 0 {
			// Zero-correct rows sink; two zero rows keep registration order.
			return a.CorrectAnswers != 0
		}
		return a.MeanLatency < b.MeanLatency
	})

	return entries
}
