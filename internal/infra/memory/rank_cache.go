package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// RankSource loads rounds and their ranking from the authoritative store.
type RankSource interface {
	GetRound(ctx context.Context, roundID string) (domain.Round, error)
	RankedAnswers(ctx context.Context, roundID string) ([]domain.RankEntry, error)
}

// RankCache keeps the ranking of scored rounds with a TTL. Answers of a scored
// round are frozen, so only a correct-choice change can alter its ranking; the
// choice is part of the key. Rounds that are not scored always pass through.
type RankCache struct {
	source RankSource
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedRanking
}

type cachedRanking struct {
	entries   []domain.RankEntry
	expiresAt time.Time
}

// NewRankCache builds a cache over source; a nil clock uses the real one.
func NewRankCache(clock clockwork.Clock, source RankSource, ttl time.Duration) *RankCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RankCache{
		source: source,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedRanking),
	}
}

func (r *RankCache) RankedAnswers(ctx context.Context, roundID string) ([]domain.RankEntry, error) {
	round, err := r.source.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if !round.IsScored() {
		return r.source.RankedAnswers(ctx, roundID)
	}

	key := roundID + ":" + string(round.CorrectChoice)
	now := r.clock.Now()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.entries, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock.Now()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.entries, nil
		}
		r.mu.RUnlock()

		entries, err := r.source.RankedAnswers(ctx, roundID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[key] = cachedRanking{
			entries:   entries,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.RankEntry), nil
}

func (r *RankCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
