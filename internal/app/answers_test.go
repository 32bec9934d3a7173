package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestSubmitPinsFirstChoiceAndAbsorbsDuplicates(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "aya")
	round := fx.openRound(t)
	guard := app.NewAnswerGuard(fx.store, fx.clock, fx.players["aya"].ID)

	outcome, err := guard.Submit(ctx, round, domain.ChoiceA)
	require.NoError(t, err)
	require.Equal(t, app.SubmitAccepted, outcome)

	outcome, err = guard.Submit(ctx, round, domain.ChoiceB)
	require.NoError(t, err)
	require.Equal(t, app.SubmitAlreadyAnswered, outcome)

	pinned, ok := guard.Pinned(round.ID)
	require.True(t, ok)
	require.Equal(t, domain.ChoiceA, pinned)

	stored, found, err := fx.store.FindAnswer(ctx, round.ID, fx.players["aya"].ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.ChoiceA, stored.Choice)
}

func TestSubmitOutsideOpenWindow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "aya")
	round, err := fx.rounds.CreateRound(ctx, fx.room)
	require.NoError(t, err)
	guard := app.NewAnswerGuard(fx.store, fx.clock, fx.players["aya"].ID)

	outcome, err := guard.Submit(ctx, round, domain.ChoiceA)
	require.NoError(t, err)
	require.Equal(t, app.SubmitRoundNotOpen, outcome)

	_, ok := guard.Pinned(round.ID)
	require.False(t, ok)
}

func TestSubmitWithStaleOpenViewHitsStoreBackstop(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "aya")
	round := fx.openRound(t)
	guard := app.NewAnswerGuard(fx.store, fx.clock, fx.players["aya"].ID)

	_, err := fx.rounds.CloseRound(ctx, round.ID)
	require.NoError(t, err)

	// The local view still says open.
	outcome, err := guard.Submit(ctx, round, domain.ChoiceC)
	require.NoError(t, err)
	require.Equal(t, app.SubmitRoundNotOpen, outcome)
	_, ok := guard.Pinned(round.ID)
	require.False(t, ok, "nothing is pinned without a confirmed insert")
}

func TestReloadResumesPinnedChoice(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "aya")
	round := fx.openRound(t)
	playerID := fx.players["aya"].ID

	first := app.NewAnswerGuard(fx.store, fx.clock, playerID)
	_, err := first.Submit(ctx, round, domain.ChoiceD)
	require.NoError(t, err)

	reloaded := app.NewAnswerGuard(fx.store, fx.clock, playerID)
	require.NoError(t, reloaded.Sync(ctx, round))
	pinned, ok := reloaded.Pinned(round.ID)
	require.True(t, ok)
	require.Equal(t, domain.ChoiceD, pinned)

	outcome, err := reloaded.Submit(ctx, round, domain.ChoiceA)
	require.NoError(t, err)
	require.Equal(t, app.SubmitAlreadyAnswered, outcome)
}

func TestNewRoundClearsPin(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "aya")
	round := fx.openRound(t)
	guard := app.NewAnswerGuard(fx.store, fx.clock, fx.players["aya"].ID)

	_, err := guard.Submit(ctx, round, domain.ChoiceB)
	require.NoError(t, err)

	next := domain.Round{ID: "next-round", RoomCode: fx.room, Index: 2, Status: domain.RoundReady}
	require.NoError(t, guard.Sync(ctx, next))
	_, ok := guard.Pinned(next.ID)
	require.False(t, ok)
	_, ok = guard.Pinned(round.ID)
	require.False(t, ok, "the pin belongs to the observed round only")
}
