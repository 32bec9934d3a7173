package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Store is an in-process implementation of app.Store. Every write runs under one
// lock, so ApplyScores is atomic, and publishes a change once committed.
type Store struct {
	clock     clockwork.Clock
	publisher app.ChangePublisher

	mu      sync.RWMutex
	rooms   map[string]domain.Room
	players map[string]domain.Player
	rounds  map[string]domain.Round
	answers map[string]map[string]domain.Answer // round id -> player id -> answer
}

// NewStore builds an empty store. publisher may be nil.
func NewStore(clock clockwork.Clock, publisher app.ChangePublisher) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:     clock,
		publisher: publisher,
		rooms:     make(map[string]domain.Room),
		players:   make(map[string]domain.Player),
		rounds:    make(map[string]domain.Round),
		answers:   make(map[string]map[string]domain.Answer),
	}
}

func (s *Store) CreateRoom(ctx context.Context, code string) (domain.Room, error) {
	s.mu.Lock()
	room := domain.Room{Code: code, CreatedAt: s.clock.Now()}
	// A colliding code silently reuses the slot.
	s.rooms[code] = room
	s.mu.Unlock()
	return room, nil
}

func (s *Store) GetRoom(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *Store) AddPlayer(ctx context.Context, roomCode, displayName string) (domain.Player, error) {
	s.mu.Lock()
	if _, ok := s.rooms[roomCode]; !ok {
		s.mu.Unlock()
		return domain.Player{}, domain.ErrRoomNotFound
	}
	player := domain.Player{
		ID:          uuid.NewString(),
		RoomCode:    roomCode,
		DisplayName: displayName,
		CreatedAt:   s.clock.Now(),
	}
	s.players[player.ID] = player
	s.mu.Unlock()

	s.publish(ctx, roomCode, domain.TablePlayers)
	return player, nil
}

func (s *Store) GetPlayer(_ context.Context, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[playerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return player, nil
}

func (s *Store) RemovePlayer(ctx context.Context, playerID string) error {
	s.mu.Lock()
	player, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrPlayerNotFound
	}
	delete(s.players, playerID)
	s.mu.Unlock()

	s.publish(ctx, player.RoomCode, domain.TablePlayers)
	return nil
}

func (s *Store) ListPlayers(_ context.Context, roomCode string) ([]domain.Player, error) {
	s.mu.RLock()
	players := make([]domain.Player, 0)
	for _, p := range s.players {
		if p.RoomCode == roomCode {
			players = append(players, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(players, func(i, j int) bool {
		if !players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].CreatedAt.Before(players[j].CreatedAt)
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

func (s *Store) InsertRound(ctx context.Context, roomCode string, index int) (domain.Round, error) {
	s.mu.Lock()
	if _, ok := s.rooms[roomCode]; !ok {
		s.mu.Unlock()
		return domain.Round{}, domain.ErrRoomNotFound
	}
	for _, r := range s.rounds {
		if r.RoomCode == roomCode && r.Index == index {
			s.mu.Unlock()
			return domain.Round{}, domain.ErrRoundInProgress
		}
	}
	round := domain.Round{
		ID:        uuid.NewString(),
		RoomCode:  roomCode,
		Index:     index,
		Status:    domain.RoundReady,
		CreatedAt: s.clock.Now(),
	}
	s.rounds[round.ID] = round
	s.mu.Unlock()

	s.publish(ctx, roomCode, domain.TableRounds)
	return round, nil
}

func (s *Store) GetRound(_ context.Context, roundID string) (domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	round, ok := s.rounds[roundID]
	if !ok {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	return round, nil
}

func (s *Store) ListRounds(_ context.Context, roomCode string) ([]domain.Round, error) {
	s.mu.RLock()
	rounds := make([]domain.Round, 0)
	for _, r := range s.rounds {
		if r.RoomCode == roomCode {
			rounds = append(rounds, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Index < rounds[j].Index })
	return rounds, nil
}

func (s *Store) OpenRound(ctx context.Context, roundID string, at time.Time) (domain.Round, error) {
	return s.updateRound(ctx, roundID, func(r *domain.Round) error {
		if r.Status != domain.RoundReady {
			return domain.ErrInvalidTransition
		}
		opened := at
		r.Status = domain.RoundOpen
		r.OpenedAt = &opened
		r.RevealStarted = false
		r.RevealAt = nil
		return nil
	})
}

func (s *Store) CloseRound(ctx context.Context, roundID string) (domain.Round, error) {
	return s.updateRound(ctx, roundID, func(r *domain.Round) error {
		if r.Status != domain.RoundOpen {
			return domain.ErrInvalidTransition
		}
		r.Status = domain.RoundClosed
		return nil
	})
}

func (s *Store) SetCorrectChoice(ctx context.Context, roundID string, choice domain.Choice) (domain.Round, error) {
	return s.updateRound(ctx, roundID, func(r *domain.Round) error {
		r.CorrectChoice = choice
		return nil
	})
}

func (s *Store) StartReveal(ctx context.Context, roundID string, at time.Time) (domain.Round, error) {
	return s.updateRound(ctx, roundID, func(r *domain.Round) error {
		if r.RevealStarted {
			return nil
		}
		revealAt := at
		r.RevealStarted = true
		r.RevealAt = &revealAt
		return nil
	})
}

func (s *Store) updateRound(ctx context.Context, roundID string, mutate func(*domain.Round) error) (domain.Round, error) {
	s.mu.Lock()
	round, ok := s.rounds[roundID]
	if !ok {
		s.mu.Unlock()
		return domain.Round{}, domain.ErrRoundNotFound
	}
	if err := mutate(&round); err != nil {
		s.mu.Unlock()
		return domain.Round{}, err
	}
	s.rounds[roundID] = round
	s.mu.Unlock()

	s.publish(ctx, round.RoomCode, domain.TableRounds)
	return round, nil
}

func (s *Store) InsertAnswer(ctx context.Context, answer domain.Answer) error {
	s.mu.Lock()
	round, ok := s.rounds[answer.RoundID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrRoundNotFound
	}
	if _, ok := s.players[answer.PlayerID]; !ok {
		s.mu.Unlock()
		return domain.ErrPlayerNotFound
	}
	byPlayer := s.answers[answer.RoundID]
	if _, dup := byPlayer[answer.PlayerID]; dup {
		s.mu.Unlock()
		return domain.ErrAlreadyAnswered
	}
	if !round.AcceptsAnswers() {
		s.mu.Unlock()
		return domain.ErrRoundNotOpen
	}
	if byPlayer == nil {
		byPlayer = make(map[string]domain.Answer)
		s.answers[answer.RoundID] = byPlayer
	}
	answer.RoomCode = round.RoomCode
	answer.CreatedAt = s.clock.Now()
	byPlayer[answer.PlayerID] = answer
	s.mu.Unlock()

	s.publish(ctx, round.RoomCode, domain.TableAnswers)
	return nil
}

func (s *Store) FindAnswer(_ context.Context, roundID, playerID string) (domain.Answer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answer, ok := s.answers[roundID][playerID]
	return answer, ok, nil
}

func (s *Store) RankedAnswers(_ context.Context, roundID string) ([]domain.RankEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rankLocked(roundID)
}

func (s *Store) rankLocked(roundID string) ([]domain.RankEntry, error) {
	round, ok := s.rounds[roundID]
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	answers := make([]domain.Answer, 0, len(s.answers[roundID]))
	for _, a := range s.answers[roundID] {
		answers = append(answers, a)
	}
	return domain.RankAnswers(round, answers), nil
}

// ApplyScores checks status, awards and flips to scored under a single lock.
func (s *Store) ApplyScores(ctx context.Context, roundID string, weights domain.Weights) error {
	s.mu.Lock()
	round, ok := s.rounds[roundID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrRoundNotFound
	}
	if round.IsScored() {
		s.mu.Unlock()
		return domain.ErrAlreadyScored
	}
	if !round.CorrectChoice.IsSet() {
		s.mu.Unlock()
		return domain.ErrNotReady
	}
	entries, err := s.rankLocked(roundID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for playerID, points := range domain.Awards(entries, weights) {
		// Players who left keep no row to credit.
		if p, ok := s.players[playerID]; ok {
			p.TotalScore += points
			s.players[playerID] = p
		}
	}
	round.Status = domain.RoundScored
	s.rounds[roundID] = round
	s.mu.Unlock()

	s.publish(ctx, round.RoomCode, domain.TablePlayers)
	s.publish(ctx, round.RoomCode, domain.TableRounds)
	return nil
}

func (s *Store) ResetScores(ctx context.Context, roomCode string) error {
	s.mu.Lock()
	for id, p := range s.players {
		if p.RoomCode == roomCode {
			p.TotalScore = 0
			s.players[id] = p
		}
	}
	s.mu.Unlock()

	s.publish(ctx, roomCode, domain.TablePlayers)
	return nil
}

func (s *Store) publish(ctx context.Context, roomCode, table string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.Change{RoomCode: roomCode, Table: table}); err != nil {
		log.Warn().Err(err).Str("room", roomCode).Str("table", table).Msg("change publish failed")
	}
}
