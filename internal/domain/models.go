package domain

import (
	"strings"
	"time"
)

// Choice is one of the four labeled options of a round. The zero value means unset.
type Choice string

const (
	ChoiceUnset Choice = ""
	ChoiceA     Choice = "A"
	ChoiceB     Choice = "B"
	ChoiceC     Choice = "C"
	ChoiceD     Choice = "D"
)

// ParseChoice normalizes user input into a Choice.
func ParseChoice(raw string) (Choice, error) {
	switch c := Choice(strings.ToUpper(strings.TrimSpace(raw))); c {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD:
		return c, nil
	}
	return ChoiceUnset, ErrInvalidChoice
}

func (c Choice) IsSet() bool {
	return c != ChoiceUnset
}

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundReady  RoundStatus = "ready"
	RoundOpen   RoundStatus = "open"
	RoundClosed RoundStatus = "closed"
	RoundScored RoundStatus = "scored"
)

// CanAdvanceTo reports whether next is the single forward step from s.
func (s RoundStatus) CanAdvanceTo(next RoundStatus) bool {
	switch s {
	case RoundReady:
		return next == RoundOpen
	case RoundOpen:
		return next == RoundClosed
	case RoundClosed:
		return next == RoundScored
	}
	return false
}

// Room groups participants and rounds under a 4-digit code.
type Room struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}

// Player is a participant of a room and their cumulative score.
type Player struct {
	ID          string    `json:"id"`
	RoomCode    string    `json:"roomCode"`
	DisplayName string    `json:"displayName"`
	TotalScore  int       `json:"totalScore"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Round is one question cycle with four options and a single correct choice.
type Round struct {
	ID            string      `json:"id"`
	RoomCode      string      `json:"roomCode"`
	Index         int         `json:"index"`
	Status        RoundStatus `json:"status"`
	CorrectChoice Choice      `json:"correctChoice,omitempty"`
	OpenedAt      *time.Time  `json:"openedAt,omitempty"`
	RevealStarted bool        `json:"revealStarted"`
	RevealAt      *time.Time  `json:"revealAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func (r Round) AcceptsAnswers() bool {
	return r.Status == RoundOpen
}

func (r Round) IsScored() bool {
	return r.Status == RoundScored
}

// Answer is a participant's single submission for a round.
type Answer struct {
	RoomCode  string    `json:"roomCode"`
	RoundID   string    `json:"roundId"`
	PlayerID  string    `json:"playerId"`
	Choice    Choice    `json:"choice"`
	CreatedAt time.Time `json:"createdAt"`
}

// RankEntry is a correct answer ranked by elapsed time from round open.
type RankEntry struct {
	RoomCode   string    `json:"roomCode"`
	RoundID    string    `json:"roundId"`
	PlayerID   string    `json:"playerId"`
	Choice     Choice    `json:"choice"`
	CreatedAt  time.Time `json:"createdAt"`
	ElapsedSec float64   `json:"elapsedSec"`
	Rank       int       `json:"rank"`
}

// Weights are the points awarded to rank 1, rank 2 and every rank from 3 on.
type Weights struct {
	First  int `json:"first" yaml:"first"`
	Second int `json:"second" yaml:"second"`
	Other  int `json:"other" yaml:"other"`
}

// DefaultWeights match the reference scoring of the game.
var DefaultWeights = Weights{First: 100, Second: 70, Other: 20}

func (w Weights) Validate() error {
	if w.First < 0 || w.Second < 0 || w.Other < 0 {
		return ErrNegativeWeight
	}
	return nil
}

// For returns the award for a dense rank.
func (w Weights) For(rank int) int {
	switch {
	case rank == 1:
		return w.First
	case rank == 2:
		return w.Second
	case rank >= 3:
		return w.Other
	}
	return 0
}

// Identity is what a participant keeps across reloads to resume as the same player.
type Identity struct {
	PlayerID    string `json:"playerId"`
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
}

// Table names carried by change notifications.
const (
	TablePlayers = "players"
	TableRounds  = "rounds"
	TableAnswers = "answers"
)

// Change is a room-scoped notification that some row changed. Receivers re-fetch
// state rather than trusting anything beyond the room code.
type Change struct {
	RoomCode string `json:"room_code"`
	Table    string `json:"table"`
}
