package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// ScoreOutcome is the result of a scoring request.
type ScoreOutcome string

const (
	ScoreApplied       ScoreOutcome = "applied"
	ScoreAlreadyScored ScoreOutcome = "already_scored"
	ScoreNotReady      ScoreOutcome = "not_ready"
	ScoreInFlight      ScoreOutcome = "in_flight"
)

// Scorer wraps the store's atomic scoring operation so one GM session never
// fires it twice for a round. Cross-session safety comes from the store.
type Scorer struct {
	store Store

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewScorer(store Store) *Scorer {
	return &Scorer{store: store, inFlight: make(map[string]struct{})}
}

// ApplyScores awards weights to the round's ranked answers exactly once.
func (s *Scorer) ApplyScores(ctx context.Context, roundID string, weights domain.Weights) (ScoreOutcome, error) {
	if err := weights.Validate(); err != nil {
		return "", err
	}
	if !s.acquire(roundID) {
		log.Debug().Str("round", roundID).Msg("scoring dropped: already in flight")
		return ScoreInFlight, nil
	}
	defer s.release(roundID)

	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return "", err
	}
	switch {
	case round.IsScored():
		return ScoreAlreadyScored, nil
	case !round.CorrectChoice.IsSet(), round.Status != domain.RoundClosed:
		return ScoreNotReady, nil
	}

	err = s.store.ApplyScores(ctx, roundID, weights)
	switch {
	case errors.Is(err, domain.ErrAlreadyScored):
		log.Info().Str("round", roundID).Msg("scoring no-op: round scored by another session")
		return ScoreAlreadyScored, nil
	case errors.Is(err, domain.ErrNotReady):
		return ScoreNotReady, nil
	case err != nil:
		log.Error().Err(err).Str("room", round.RoomCode).Str("round", roundID).Msg("scoring failed")
		return "", fmt.Errorf("apply scores: %w", err)
	}

	after, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return "", fmt.Errorf("verify scored round: %w", err)
	}
	if !after.IsScored() {
		log.Warn().Str("round", roundID).Str("status", string(after.Status)).Msg("scoring returned but round is not scored")
	}
	log.Info().
		Str("room", round.RoomCode).
		Str("round", roundID).
		Int("first", weights.First).
		Int("second", weights.Second).
		Int("other", weights.Other).
		Msg("scores applied")
	return ScoreApplied, nil
}

func (s *Scorer) acquire(roundID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[roundID]; busy {
		return false
	}
	s.inFlight[roundID] = struct{}{}
	return true
}

func (s *Scorer) release(roundID string) {
	s.mu.Lock()
	delete(s.inFlight, roundID)
	s.mu.Unlock()
}
