package app

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// RoundService holds the GM-triggered transitions of the round state machine.
// Every check reads the store first; nothing here trusts a cached round.
type RoundService struct {
	store Store
	clock clockwork.Clock
}

func NewRoundService(store Store, clock clockwork.Clock) *RoundService {
	return &RoundService{store: store, clock: clock}
}

// CreateRound stages the next round in ready. It is refused while the latest
// round of the room is not scored.
func (s *RoundService) CreateRound(ctx context.Context, roomCode string) (domain.Round, error) {
	rounds, err := s.store.ListRounds(ctx, roomCode)
	if err != nil {
		return domain.Round{}, fmt.Errorf("list rounds: %w", err)
	}

	next := 1
	if n := len(rounds); n > 0 {
		latest := rounds[n-1]
		if !latest.IsScored() {
			log.Info().
				Str("room", roomCode).
				Int("latest_index", latest.Index).
				Str("latest_status", string(latest.Status)).
				Msg("create round refused: previous round in progress")
			return domain.Round{}, domain.ErrRoundInProgress
		}
		next = latest.Index + 1
	}

	round, err := s.store.InsertRound(ctx, roomCode, next)
	if err != nil {
		return domain.Round{}, err
	}
	log.Info().Str("room", roomCode).Str("round", round.ID).Int("index", round.Index).Msg("round created")
	return round, nil
}

// OpenRound starts the answer window. Opening an open round is a no-op.
func (s *RoundService) OpenRound(ctx context.Context, roundID string) (domain.Round, error) {
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return domain.Round{}, err
	}
	if round.Status == domain.RoundOpen {
		return round, nil
	}
	if !round.Status.CanAdvanceTo(domain.RoundOpen) {
		return domain.Round{}, transitionError(round, domain.RoundOpen)
	}

	opened, err := s.store.OpenRound(ctx, roundID, s.clock.Now())
	if err != nil {
		return domain.Round{}, err
	}
	log.Info().Str("room", opened.RoomCode).Str("round", opened.ID).Msg("round opened")
	return opened, nil
}

// CloseRound freezes answers. Closing a closed round is a no-op.
func (s *RoundService) CloseRound(ctx context.Context, roundID string) (domain.Round, error) {
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return domain.Round{}, err
	}
	if round.Status == domain.RoundClosed {
		return round, nil
	}
	if !round.Status.CanAdvanceTo(domain.RoundClosed) {
		return domain.Round{}, transitionError(round, domain.RoundClosed)
	}

	closed, err := s.store.CloseRound(ctx, roundID)
	if err != nil {
		return domain.Round{}, err
	}
	log.Info().Str("room", closed.RoomCode).Str("round", closed.ID).Msg("round closed")
	return closed, nil
}

// SetCorrectChoice overwrites the correct option in any status.
func (s *RoundService) SetCorrectChoice(ctx context.Context, roundID string, choice domain.Choice) (domain.Round, error) {
	if !choice.IsSet() {
		return domain.Round{}, domain.ErrInvalidChoice
	}
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return domain.Round{}, err
	}
	if round.IsScored() && round.CorrectChoice != choice {
		// Scores already applied are not recomputed.
		log.Warn().
			Str("room", round.RoomCode).
			Str("round", round.ID).
			Str("from", string(round.CorrectChoice)).
			Str("to", string(choice)).
			Msg("correct choice changed after scoring; totals are stale")
	}

	updated, err := s.store.SetCorrectChoice(ctx, roundID, choice)
	if err != nil {
		return domain.Round{}, err
	}
	log.Info().Str("room", updated.RoomCode).Str("round", updated.ID).Str("choice", string(choice)).Msg("correct choice set")
	return updated, nil
}

// StartReveal flips the broadcast reveal flag. It needs a correct choice and at
// least one ranked answer.
func (s *RoundService) StartReveal(ctx context.Context, roundID string) (domain.Round, error) {
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return domain.Round{}, err
	}
	if !round.CorrectChoice.IsSet() {
		return domain.Round{}, fmt.Errorf("%w: correct choice not set", domain.ErrNotReady)
	}
	entries, err := s.store.RankedAnswers(ctx, roundID)
	if err != nil {
		return domain.Round{}, fmt.Errorf("load ranking: %w", err)
	}
	if len(entries) == 0 {
		return domain.Round{}, fmt.Errorf("%w: no correct answers", domain.ErrNotReady)
	}
	if round.RevealStarted {
		return round, nil
	}

	updated, err := s.store.StartReveal(ctx, roundID, s.clock.Now())
	if err != nil {
		return domain.Round{}, err
	}
	log.Info().Str("room", updated.RoomCode).Str("round", updated.ID).Int("entries", len(entries)).Msg("reveal started")
	return updated, nil
}

func transitionError(round domain.Round, to domain.RoundStatus) error {
	log.Info().
		Str("room", round.RoomCode).
		Str("round", round.ID).
		Str("from", string(round.Status)).
		Str("to", string(to)).
		Msg("round transition refused")
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, round.Status, to)
}
