package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/domain"
)

// IdentityStore is an in-memory implementation of app.IdentityStore.
type IdentityStore struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu         sync.RWMutex
	identities map[string]storedIdentity
}

type storedIdentity struct {
	identity  domain.Identity
	expiresAt time.Time
}

// NewIdentityStore keeps identities for ttl; a zero ttl never expires.
func NewIdentityStore(clock clockwork.Clock, ttl time.Duration) *IdentityStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IdentityStore{
		ttl:        ttl,
		clock:      clock,
		identities: make(map[string]storedIdentity),
	}
}

func (s *IdentityStore) Save(_ context.Context, token string, identity domain.Identity) error {
	entry := storedIdentity{identity: identity}
	if s.ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(s.ttl)
	}
	s.mu.Lock()
	s.identities[token] = entry
	s.mu.Unlock()
	return nil
}

func (s *IdentityStore) Load(_ context.Context, token string) (domain.Identity, error) {
	s.mu.RLock()
	entry, ok := s.identities[token]
	s.mu.RUnlock()
	if !ok {
		return domain.Identity{}, domain.ErrIdentityNotFound
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(s.clock.Now()) {
		_ = s.Delete(context.Background(), token)
		return domain.Identity{}, domain.ErrIdentityNotFound
	}
	return entry.identity, nil
}

func (s *IdentityStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.identities, token)
	s.mu.Unlock()
	return nil
}
