package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/domain"
)

func TestRankCacheCachesScoredRounds(t *testing.T) {
	source := &countingSource{round: domain.Round{ID: "r1", Status: domain.RoundScored, CorrectChoice: domain.ChoiceA}}
	cache := NewRankCache(clockwork.NewFakeClock(), source, time.Minute)

	if _, err := cache.RankedAnswers(context.Background(), "r1"); err != nil {
		t.Fatalf("ranked answers: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected source once, got %d", source.calls)
	}

	if _, err := cache.RankedAnswers(context.Background(), "r1"); err != nil {
		t.Fatalf("ranked answers 2: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls %d", source.calls)
	}

	// Changing the correct choice after scoring must not serve the old ranking.
	source.round.CorrectChoice = domain.ChoiceB
	if _, err := cache.RankedAnswers(context.Background(), "r1"); err != nil {
		t.Fatalf("ranked answers 3: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected miss after choice change, source calls %d", source.calls)
	}
}

func TestRankCachePassesThroughUnscoredRounds(t *testing.T) {
	source := &countingSource{round: domain.Round{ID: "r1", Status: domain.RoundClosed, CorrectChoice: domain.ChoiceA}}
	cache := NewRankCache(nil, source, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := cache.RankedAnswers(context.Background(), "r1"); err != nil {
			t.Fatalf("ranked answers: %v", err)
		}
	}
	if source.calls != 3 {
		t.Fatalf("expected every call to reach the source, got %d", source.calls)
	}
}

func TestRankCacheExpiresOnInjectedClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &countingSource{round: domain.Round{ID: "r1", Status: domain.RoundScored, CorrectChoice: domain.ChoiceA}}
	cache := NewRankCache(clock, source, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.RankedAnswers(context.Background(), "r1"); err != nil {
			t.Fatalf("ranked answers: %v", err)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected a single load before expiry, got %d", source.calls)
	}

	// TTL plus the maximum 10% jitter.
	clock.Advance(66 * time.Second)
	if _, err := cache.RankedAnswers(context.Background(), "r1"); err != nil {
		t.Fatalf("ranked answers after expiry: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected reload after expiry, got %d", source.calls)
	}
}

type countingSource struct {
	round domain.Round
	calls int
}

func (s *countingSource) GetRound(_ context.Context, roundID string) (domain.Round, error) {
	if roundID != s.round.ID {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	return s.round, nil
}

func (s *countingSource) RankedAnswers(_ context.Context, roundID string) ([]domain.RankEntry, error) {
	s.calls++
	return []domain.RankEntry{{RoundID: roundID, PlayerID: "p1", Choice: s.round.CorrectChoice, Rank: 1}}, nil
}
