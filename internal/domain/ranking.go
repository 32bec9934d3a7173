package domain

import "sort"

// RankAnswers derives the rank view of a round: answers matching the correct
// choice, ascending by elapsed time since open, with dense ranks 1..K.
// A round that never opened or has no correct choice yields no entries.
func RankAnswers(round Round, answers []Answer) []RankEntry {
	if !round.CorrectChoice.IsSet() || round.OpenedAt == nil {
		return nil
	}
	openedAt := *round.OpenedAt

	entries := make([]RankEntry, 0, len(answers))
	for _, a := range answers {
		if a.RoundID != round.ID || a.Choice != round.CorrectChoice {
			continue
		}
		entries = append(entries, RankEntry{
			RoomCode:   a.RoomCode,
			RoundID:    a.RoundID,
			PlayerID:   a.PlayerID,
			Choice:     a.Choice,
			CreatedAt:  a.CreatedAt,
			ElapsedSec: a.CreatedAt.Sub(openedAt).Seconds(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ElapsedSec != entries[j].ElapsedSec {
			return entries[i].ElapsedSec < entries[j].ElapsedSec
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})

	rank := 0
	for i := range entries {
		if i == 0 || entries[i].ElapsedSec != entries[i-1].ElapsedSec {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries
}

// Awards maps each ranked player to the points the weights give their rank.
func Awards(entries []RankEntry, w Weights) map[string]int {
	awards := make(map[string]int, len(entries))
	for _, e := range entries {
		awards[e.PlayerID] += w.For(e.Rank)
	}
	return awards
}

// RevealVisible reports whether the entry at idx (0 = best) of a list of total
// entries is shown once count steps of the bottom-up reveal have elapsed.
func RevealVisible(total, idx, count int) bool {
	if idx < 0 || idx >= total {
		return false
	}
	fromBottom := total - 1 - idx
	return count > fromBottom
}

// VisibleEntries filters a rank-ordered list down to what the reveal shows.
func VisibleEntries(entries []RankEntry, count int) []RankEntry {
	visible := make([]RankEntry, 0, len(entries))
	for i, e := range entries {
		if RevealVisible(len(entries), i, count) {
			visible = append(visible, e)
		}
	}
	return visible
}
