package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// RoomService covers rooms and participant membership.
type RoomService struct {
	store      Store
	identities IdentityStore

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRoomService(store Store, identities IdentityStore) *RoomService {
	return &RoomService{
		store:      store,
		identities: identities,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoom picks a random 4-digit code. Codes are not checked against
// existing rooms; a collision creates a second room sharing the code.
func (s *RoomService) CreateRoom(ctx context.Context) (domain.Room, error) {
	s.mu.Lock()
	code := fmt.Sprintf("%04d", 1000+s.rnd.Intn(9000))
	s.mu.Unlock()

	room, err := s.store.CreateRoom(ctx, code)
	if err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	log.Info().Str("room", room.Code).Msg("room created")
	return room, nil
}

// Room looks a room up by code.
func (s *RoomService) Room(ctx context.Context, code string) (domain.Room, error) {
	return s.store.GetRoom(ctx, code)
}

// Join adds a participant to a room and returns a token that resumes it.
func (s *RoomService) Join(ctx context.Context, roomCode, displayName string) (domain.Player, string, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.Player{}, "", domain.ErrDisplayNameRequired
	}
	if _, err := s.store.GetRoom(ctx, roomCode); err != nil {
		return domain.Player{}, "", err
	}

	player, err := s.store.AddPlayer(ctx, roomCode, displayName)
	if err != nil {
		return domain.Player{}, "", fmt.Errorf("add player: %w", err)
	}

	token := uuid.NewString()
	identity := domain.Identity{PlayerID: player.ID, RoomCode: roomCode, DisplayName: player.DisplayName}
	if err := s.identities.Save(ctx, token, identity); err != nil {
		return domain.Player{}, "", fmt.Errorf("save identity: %w", err)
	}
	log.Info().Str("room", roomCode).Str("player", player.ID).Str("name", player.DisplayName).Msg("player joined")
	return player, token, nil
}

// Resume restores a participant from its token. A player that left no longer resumes.
func (s *RoomService) Resume(ctx context.Context, token string) (domain.Identity, error) {
	identity, err := s.identities.Load(ctx, token)
	if err != nil {
		return domain.Identity{}, err
	}
	if _, err := s.store.GetPlayer(ctx, identity.PlayerID); err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			_ = s.identities.Delete(ctx, token)
			return domain.Identity{}, domain.ErrIdentityNotFound
		}
		return domain.Identity{}, err
	}
	return identity, nil
}

// Leave deletes the player row and forgets the token. Past round outcomes are kept.
func (s *RoomService) Leave(ctx context.Context, token string, identity domain.Identity) error {
	if err := s.store.RemovePlayer(ctx, identity.PlayerID); err != nil && !errors.Is(err, domain.ErrPlayerNotFound) {
		return fmt.Errorf("remove player: %w", err)
	}
	if token != "" {
		if err := s.identities.Delete(ctx, token); err != nil {
			return fmt.Errorf("delete identity: %w", err)
		}
	}
	log.Info().Str("room", identity.RoomCode).Str("player", identity.PlayerID).Msg("player left")
	return nil
}

// ResetScores zeroes every total in the room.
func (s *RoomService) ResetScores(ctx context.Context, roomCode string) error {
	if err := s.store.ResetScores(ctx, roomCode); err != nil {
		return fmt.Errorf("reset scores: %w", err)
	}
	log.Info().Str("room", roomCode).Msg("scores reset")
	return nil
}
