package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// Store is the shared datastore every client session reads and writes.
// Implementations publish a domain.Change for every committed write (directly or
// through database triggers) so subscribed sessions re-fetch.
type Store interface {
	CreateRoom(ctx context.Context, code string) (domain.Room, error)
	GetRoom(ctx context.Context, code string) (domain.Room, error)

	AddPlayer(ctx context.Context, roomCode, displayName string) (domain.Player, error)
	GetPlayer(ctx context.Context, playerID string) (domain.Player, error)
	RemovePlayer(ctx context.Context, playerID string) error
	// ListPlayers returns players ordered by join time.
	ListPlayers(ctx context.Context, roomCode string) ([]domain.Player, error)

	// InsertRound creates a ready round. A duplicate (room, index) is ErrRoundInProgress.
	InsertRound(ctx context.Context, roomCode string, index int) (domain.Round, error)
	GetRound(ctx context.Context, roundID string) (domain.Round, error)
	// ListRounds returns rounds ordered by index.
	ListRounds(ctx context.Context, roomCode string) ([]domain.Round, error)
	// OpenRound moves ready -> open, stamps opened_at and clears reveal state.
	OpenRound(ctx context.Context, roundID string, at time.Time) (domain.Round, error)
	// CloseRound moves open -> closed.
	CloseRound(ctx context.Context, roundID string) (domain.Round, error)
	SetCorrectChoice(ctx context.Context, roundID string, choice domain.Choice) (domain.Round, error)
	// StartReveal flips reveal_started false -> true; it never flips back.
	StartReveal(ctx context.Context, roundID string, at time.Time) (domain.Round, error)

	// InsertAnswer fails with ErrAlreadyAnswered on a (round, player) conflict and
	// ErrRoundNotOpen when the round is not accepting answers.
	InsertAnswer(ctx context.Context, answer domain.Answer) error
	FindAnswer(ctx context.Context, roundID, playerID string) (domain.Answer, bool, error)

	RankReader

	// ApplyScores awards points by rank and marks the round scored as one atomic unit.
	// It returns ErrAlreadyScored if the round is scored when the operation runs and
	// ErrNotReady if no correct choice is set.
	ApplyScores(ctx context.Context, roundID string, weights domain.Weights) error
	// ResetScores zeroes total_score for every player of the room.
	ResetScores(ctx context.Context, roomCode string) error
}

// RankReader returns the derived ranking view for a round, ordered by rank.
type RankReader interface {
	RankedAnswers(ctx context.Context, roundID string) ([]domain.RankEntry, error)
}

// ChangePublisher emits room-scoped change notifications.
type ChangePublisher interface {
	Publish(ctx context.Context, change domain.Change) error
}

// ChangeFeed delivers change notifications for one room until cancel is called.
type ChangeFeed interface {
	Subscribe(ctx context.Context, roomCode string) (<-chan domain.Change, func(), error)
}

// IdentityStore keeps a participant's identity so a reload resumes the same player.
type IdentityStore interface {
	Save(ctx context.Context, token string, identity domain.Identity) error
	Load(ctx context.Context, token string) (domain.Identity, error)
	Delete(ctx context.Context, token string) error
}
