package app

import (
	"context"
	"fmt"
	"sync"

	"live-quiz-service/internal/domain"
)

// Snapshot is one client's derived view of a room.
type Snapshot struct {
	RoomCode string
	Players  []domain.Player
	Rounds   []domain.Round
	Current  *domain.Round
	Ranked   []domain.RankEntry
}

// Projection re-derives a room snapshot wholesale from the store. Fetched state is
// always authoritative; a failed refresh leaves the previous snapshot in place.
type Projection struct {
	store    Store
	ranks    RankReader
	roomCode string

	mu       sync.Mutex
	pinnedID string
	latestID string
	snapshot Snapshot
}

func NewProjection(store Store, ranks RankReader, roomCode string) *Projection {
	if ranks == nil {
		ranks = store
	}
	return &Projection{store: store, ranks: ranks, roomCode: roomCode}
}

// Refresh fetches players, rounds and the current round's ranking.
func (p *Projection) Refresh(ctx context.Context) (Snapshot, error) {
	players, err := p.store.ListPlayers(ctx, p.roomCode)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list players: %w", err)
	}
	rounds, err := p.store.ListRounds(ctx, p.roomCode)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list rounds: %w", err)
	}

	p.mu.Lock()
	pinnedID, latestID := p.pinnedID, p.latestID
	p.mu.Unlock()

	current, nextPinned := selectCurrent(rounds, pinnedID, latestID)

	var ranked []domain.RankEntry
	if current != nil {
		ranked, err = p.ranks.RankedAnswers(ctx, current.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("ranked answers: %w", err)
		}
	}

	snap := Snapshot{
		RoomCode: p.roomCode,
		Players:  players,
		Rounds:   rounds,
		Current:  current,
		Ranked:   ranked,
	}

	p.mu.Lock()
	// A pin set while fetching wins over the computed one.
	if p.pinnedID == pinnedID {
		p.pinnedID = nextPinned
	}
	if n := len(rounds); n > 0 {
		p.latestID = rounds[n-1].ID
	} else {
		p.latestID = ""
	}
	p.snapshot = snap
	p.mu.Unlock()
	return snap, nil
}

// PinRound keeps roundID selected for review instead of following the latest round.
func (p *Projection) PinRound(roundID string) {
	p.mu.Lock()
	p.pinnedID = roundID
	p.mu.Unlock()
}

// Follow drops any review pin so the latest round is current again.
func (p *Projection) Follow() {
	p.PinRound("")
}

func (p *Projection) PinnedRound() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinnedID
}

func (p *Projection) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// selectCurrent picks the latest round unless a review pin holds an earlier one.
// A pin on the round that was latest at the previous refresh follows the action
// once that round is scored and a later round exists.
func selectCurrent(rounds []domain.Round, pinnedID, prevLatestID string) (*domain.Round, string) {
	if len(rounds) == 0 {
		return nil, pinnedID
	}
	latest := rounds[len(rounds)-1]
	if pinnedID == "" {
		return &latest, ""
	}

	var pinned *domain.Round
	for i := range rounds {
		if rounds[i].ID == pinnedID {
			r := rounds[i]
			pinned = &r
			break
		}
	}
	if pinned == nil {
		return &latest, ""
	}
	if pinned.ID == prevLatestID && pinned.IsScored() && latest.Index > pinned.Index {
		return &latest, latest.ID
	}
	return pinned, pinnedID
}
