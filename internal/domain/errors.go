package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code has no room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPlayerNotFound is returned when a player id has no row (never joined or left).
	ErrPlayerNotFound = errors.New("player not found")
	// ErrRoundNotFound is returned when a round id has no row.
	ErrRoundNotFound = errors.New("round not found")
	// ErrIdentityNotFound indicates a resume token is unknown or expired.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrRoundInProgress rejects creating a round while the latest one is not scored.
	ErrRoundInProgress = errors.New("previous round is not scored yet")
	// ErrRoundNotOpen rejects answers outside the open window.
	ErrRoundNotOpen = errors.New("round is not open")
	// ErrAlreadyAnswered is the uniqueness conflict on (round, player).
	ErrAlreadyAnswered = errors.New("already answered this round")
	// ErrNotReady rejects reveal or scoring before a correct choice and ranked answers exist.
	ErrNotReady = errors.New("round is not ready")
	// ErrScoringInFlight drops a second scoring call from the same session.
	ErrScoringInFlight = errors.New("scoring already in flight")
	// ErrAlreadyScored is reported when scoring finds the round already scored.
	ErrAlreadyScored = errors.New("round already scored")

	ErrInvalidChoice       = errors.New("choice must be one of A, B, C, D")
	ErrInvalidTransition   = errors.New("invalid round status transition")
	ErrNegativeWeight      = errors.New("weights must be non-negative")
	ErrDisplayNameRequired = errors.New("display name is required")
)
