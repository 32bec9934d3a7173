package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

// RankCache shares the ranking of scored rounds between instances.
// Entries are stored as JSON: SET rank:{roundID}:{choice} [...entries]
// Rounds that are not scored always go to the source.
type RankCache struct {
	client *redis.Client
	source memory.RankSource
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRankCache(client *redis.Client, source memory.RankSource, ttl time.Duration) *RankCache {
	return &RankCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
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

	key := r.key(roundID, round.CorrectChoice)
	if entries, ok := r.cached(ctx, key); ok {
		return entries, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if entries, ok := r.cached(ctx, key); ok {
			return entries, nil
		}

		entries, err := r.source.RankedAnswers(ctx, roundID)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(entries)
		if err != nil {
			return nil, err
		}
		if err := r.client.Set(ctx, key, payload, r.ttlWithJitter()).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rank cache write failed")
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.RankEntry), nil
}

func (r *RankCache) cached(ctx context.Context, key string) ([]domain.RankEntry, bool) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("rank cache read failed")
		}
		return nil, false
	}
	var entries []domain.RankEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (r *RankCache) key(roundID string, choice domain.Choice) string {
	return "rank:" + roundID + ":" + string(choice)
}

func (r *RankCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
