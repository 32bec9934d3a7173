package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// Role is what a connected client may do in a room.
type Role string

const (
	RoleGM     Role = "gm"
	RolePlayer Role = "player"
)

// ErrGMOnly rejects GM controls from a participant session.
var ErrGMOnly = errors.New("operation requires the game master role")

// SessionDeps are shared by every client session of a process.
type SessionDeps struct {
	Store          Store
	Feed           ChangeFeed
	Ranks          RankReader
	Clock          clockwork.Clock
	RevealInterval time.Duration
}

// View is what a client renders.
type View struct {
	RoomCode     string             `json:"roomCode"`
	Players      []domain.Player    `json:"players"`
	Rounds       []domain.Round     `json:"rounds"`
	CurrentRound *domain.Round      `json:"currentRound,omitempty"`
	Ranked       []domain.RankEntry `json:"ranked"`
	RankedTotal  int                `json:"rankedTotal"`
	RevealCount  int                `json:"revealCount"`
	PinnedChoice domain.Choice      `json:"pinnedChoice,omitempty"`
	ReviewPinned bool               `json:"reviewPinned"`
}

// Session is the per-client state of one GM or participant connected to a room:
// its projection, its reveal stepper, its answer pin and its scoring guard.
// Run drives it from the room's change feed on a single goroutine.
type Session struct {
	roomCode string
	role     Role
	identity domain.Identity
	feed     ChangeFeed

	rounds     *RoundService
	scorer     *Scorer
	guard      *AnswerGuard
	projection *Projection
	reveal     *Reveal

	nudge chan struct{}

	mu          sync.Mutex
	subscribers map[chan View]struct{}
}

// NewSession builds a session for roomCode. identity is only used by participants.
func NewSession(deps SessionDeps, roomCode string, role Role, identity domain.Identity) *Session {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Session{
		roomCode:    roomCode,
		role:        role,
		identity:    identity,
		feed:        deps.Feed,
		projection:  NewProjection(deps.Store, deps.Ranks, roomCode),
		nudge:       make(chan struct{}, 1),
		subscribers: make(map[chan View]struct{}),
	}
	s.reveal = NewReveal(clock, deps.RevealInterval, func(int) { s.broadcast() })
	switch role {
	case RoleGM:
		s.rounds = NewRoundService(deps.Store, clock)
		s.scorer = NewScorer(deps.Store)
	case RolePlayer:
		s.guard = NewAnswerGuard(deps.Store, clock, identity.PlayerID)
	}
	return s
}

func (s *Session) Role() Role { return s.role }

func (s *Session) RoomCode() string { return s.roomCode }

func (s *Session) Identity() domain.Identity { return s.identity }

// Run subscribes to the room and re-derives the view on every change until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	changes, cancel, err := s.feed.Subscribe(ctx, s.roomCode)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.reveal.Stop()

	if err := s.refresh(ctx); err != nil {
		log.Warn().Err(err).Str("room", s.roomCode).Msg("initial refresh failed")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			drain(changes)
		case <-s.nudge:
		}
		if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("room", s.roomCode).Msg("refresh failed")
		}
	}
}

// Refresh asks the run loop to re-fetch without waiting for a notification.
func (s *Session) Refresh() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Updates returns a channel of views; the caller must invoke cancel.
func (s *Session) Updates() (<-chan View, func()) {
	ch := make(chan View, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.View()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// View renders the current snapshot with the reveal gate applied.
func (s *Session) View() View {
	snap := s.projection.Snapshot()
	view := View{
		RoomCode:     s.roomCode,
		Players:      snap.Players,
		Rounds:       snap.Rounds,
		Ranked:       []domain.RankEntry{},
		RankedTotal:  len(snap.Ranked),
		ReviewPinned: s.projection.PinnedRound() != "",
	}
	if snap.Current == nil {
		return view
	}
	current := *snap.Current
	view.CurrentRound = &current
	if current.RevealStarted {
		view.RevealCount = s.reveal.Count(current.ID)
		view.Ranked = domain.VisibleEntries(snap.Ranked, view.RevealCount)
	}
	if s.guard != nil {
		if choice, ok := s.guard.Pinned(current.ID); ok {
			view.PinnedChoice = choice
		}
	}
	return view
}

// Submit answers the current round for a participant.
func (s *Session) Submit(ctx context.Context, choice domain.Choice) (SubmitOutcome, error) {
	if s.guard == nil {
		return "", errors.New("only participants can answer")
	}
	current := s.projection.Snapshot().Current
	if current == nil {
		return SubmitRoundNotOpen, nil
	}
	outcome, err := s.guard.Submit(ctx, *current, choice)
	if err != nil {
		return "", err
	}
	if outcome == SubmitAccepted {
		s.broadcast()
	}
	return outcome, nil
}

func (s *Session) CreateRound(ctx context.Context) (domain.Round, error) {
	if s.rounds == nil {
		return domain.Round{}, ErrGMOnly
	}
	round, err := s.rounds.CreateRound(ctx, s.roomCode)
	return s.afterWrite(round, err)
}

func (s *Session) OpenRound(ctx context.Context, roundID string) (domain.Round, error) {
	if s.rounds == nil {
		return domain.Round{}, ErrGMOnly
	}
	round, err := s.rounds.OpenRound(ctx, roundID)
	return s.afterWrite(round, err)
}

func (s *Session) CloseRound(ctx context.Context, roundID string) (domain.Round, error) {
	if s.rounds == nil {
		return domain.Round{}, ErrGMOnly
	}
	round, err := s.rounds.CloseRound(ctx, roundID)
	return s.afterWrite(round, err)
}

func (s *Session) SetCorrectChoice(ctx context.Context, roundID string, choice domain.Choice) (domain.Round, error) {
	if s.rounds == nil {
		return domain.Round{}, ErrGMOnly
	}
	round, err := s.rounds.SetCorrectChoice(ctx, roundID, choice)
	return s.afterWrite(round, err)
}

// StartReveal writes the broadcast flag. The local stepper starts when the flag
// comes back through the change feed, like on every other client.
func (s *Session) StartReveal(ctx context.Context, roundID string) (domain.Round, error) {
	if s.rounds == nil {
		return domain.Round{}, ErrGMOnly
	}
	round, err := s.rounds.StartReveal(ctx, roundID)
	return s.afterWrite(round, err)
}

// ApplyScores scores roundID once and re-fetches totals and status on success.
func (s *Session) ApplyScores(ctx context.Context, roundID string, weights domain.Weights) (ScoreOutcome, error) {
	if s.scorer == nil {
		return "", ErrGMOnly
	}
	outcome, err := s.scorer.ApplyScores(ctx, roundID, weights)
	if err != nil {
		return "", err
	}
	if outcome == ScoreApplied || outcome == ScoreAlreadyScored {
		s.Refresh()
	}
	return outcome, nil
}

// PinRound selects an earlier round for review.
func (s *Session) PinRound(roundID string) error {
	if s.role != RoleGM {
		return ErrGMOnly
	}
	s.projection.PinRound(roundID)
	s.Refresh()
	return nil
}

// Follow returns the GM to the latest round.
func (s *Session) Follow() error {
	if s.role != RoleGM {
		return ErrGMOnly
	}
	s.projection.Follow()
	s.Refresh()
	return nil
}

func (s *Session) afterWrite(round domain.Round, err error) (domain.Round, error) {
	if err != nil {
		return domain.Round{}, err
	}
	s.Refresh()
	return round, nil
}

func (s *Session) refresh(ctx context.Context) error {
	snap, err := s.projection.Refresh(ctx)
	if err != nil {
		return err
	}
	if snap.Current == nil {
		s.reveal.Observe("", false, 0)
	} else {
		current := *snap.Current
		if s.guard != nil {
			if err := s.guard.Sync(ctx, current); err != nil {
				log.Warn().Err(err).Str("round", current.ID).Msg("answer pin sync failed")
			}
		}
		s.reveal.Observe(current.ID, current.RevealStarted, len(snap.Ranked))
	}
	s.broadcast()
	return nil
}

// broadcast renders under s.mu so subscribers receive views in the order they
// were rendered.
func (s *Session) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.View()
	for ch := range s.subscribers {
		select {
		case ch <- view:
		default:
			// Drop the oldest view so a slow reader never blocks the room.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

func drain(changes <-chan domain.Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
