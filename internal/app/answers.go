package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// SubmitOutcome is the result of a guarded answer submission.
type SubmitOutcome string

const (
	SubmitAccepted        SubmitOutcome = "accepted"
	SubmitAlreadyAnswered SubmitOutcome = "already_answered"
	SubmitRoundNotOpen    SubmitOutcome = "round_not_open"
)

// AnswerGuard enforces one answer per participant per round for a single client
// session. The pinned choice is set only after the store confirms the insert and
// lives until a different round id is observed.
type AnswerGuard struct {
	store    Store
	clock    clockwork.Clock
	playerID string

	mu      sync.Mutex
	roundID string
	pinned  domain.Choice
}

func NewAnswerGuard(store Store, clock clockwork.Clock, playerID string) *AnswerGuard {
	return &AnswerGuard{store: store, clock: clock, playerID: playerID}
}

// Submit inserts the participant's answer for round.
func (g *AnswerGuard) Submit(ctx context.Context, round domain.Round, choice domain.Choice) (SubmitOutcome, error) {
	if !choice.IsSet() {
		return "", domain.ErrInvalidChoice
	}
	if !round.AcceptsAnswers() {
		return SubmitRoundNotOpen, nil
	}

	g.mu.Lock()
	g.observeLocked(round.ID)
	if g.pinned.IsSet() {
		g.mu.Unlock()
		return SubmitAlreadyAnswered, nil
	}
	g.mu.Unlock()

	err := g.store.InsertAnswer(ctx, domain.Answer{
		RoomCode:  round.RoomCode,
		RoundID:   round.ID,
		PlayerID:  g.playerID,
		Choice:    choice,
		CreatedAt: g.clock.Now(),
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyAnswered):
		log.Debug().Str("round", round.ID).Str("player", g.playerID).Msg("duplicate answer absorbed")
		return SubmitAlreadyAnswered, nil
	case errors.Is(err, domain.ErrRoundNotOpen):
		return SubmitRoundNotOpen, nil
	case err != nil:
		return "", fmt.Errorf("insert answer: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.roundID == round.ID && !g.pinned.IsSet() {
		g.pinned = choice
	}
	return SubmitAccepted, nil
}

// Sync re-derives the pin for round from the store. It runs whenever a new round
// id is observed and after a reload, so an existing answer is never forgotten.
func (g *AnswerGuard) Sync(ctx context.Context, round domain.Round) error {
	g.mu.Lock()
	changed := g.observeLocked(round.ID)
	pinned := g.pinned.IsSet()
	g.mu.Unlock()
	if !changed && pinned {
		return nil
	}

	existing, ok, err := g.store.FindAnswer(ctx, round.ID, g.playerID)
	if err != nil {
		return fmt.Errorf("find answer: %w", err)
	}
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.roundID == round.ID {
		g.pinned = existing.Choice
	}
	return nil
}

// Pinned returns the pinned choice for roundID, if any.
func (g *AnswerGuard) Pinned(roundID string) (domain.Choice, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.roundID != roundID || !g.pinned.IsSet() {
		return domain.ChoiceUnset, false
	}
	return g.pinned, true
}

func (g *AnswerGuard) observeLocked(roundID string) bool {
	if g.roundID == roundID {
		return false
	}
	g.roundID = roundID
	g.pinned = domain.ChoiceUnset
	return true
}
