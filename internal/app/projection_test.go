package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestProjectionFollowsLatestRound(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "aya", "ken")
	projection := app.NewProjection(fx.store, nil, fx.room)

	snap, err := projection.Refresh(ctx)
	require.NoError(t, err)
	require.Nil(t, snap.Current)
	require.Len(t, snap.Players, 2)

	first := fx.scoredRound(t)
	second, err := fx.rounds.CreateRound(ctx, fx.room)
	require.NoError(t, err)

	snap, err = projection.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Rounds, 2)
	require.Equal(t, first.ID, snap.Rounds[0].ID)
	require.Equal(t, second.ID, snap.Current.ID)
}

func TestProjectionPinAutoAdvancesAfterScoring(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	projection := app.NewProjection(fx.store, nil, fx.room)

	round := fx.closedRound(t)
	_, err := projection.Refresh(ctx)
	require.NoError(t, err)
	projection.PinRound(round.ID)

	_, err = app.NewScorer(fx.store).ApplyScores(ctx, round.ID, domain.DefaultWeights)
	require.NoError(t, err)
	snap, err := projection.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, round.ID, snap.Current.ID, "no later round yet")

	next, err := fx.rounds.CreateRound(ctx, fx.room)
	require.NoError(t, err)
	snap, err = projection.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, next.ID, snap.Current.ID)
	require.Equal(t, next.ID, projection.PinnedRound())
}

func TestProjectionKeepsReviewPinOnOlderRound(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	projection := app.NewProjection(fx.store, nil, fx.room)

	old := fx.scoredRound(t)
	fx.scoredRound(t)
	_, err := projection.Refresh(ctx)
	require.NoError(t, err)

	projection.PinRound(old.ID)
	snap, err := projection.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, old.ID, snap.Current.ID)

	_, err = fx.rounds.CreateRound(ctx, fx.room)
	require.NoError(t, err)
	snap, err = projection.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, old.ID, snap.Current.ID, "review pin is kept")

	projection.Follow()
	snap, err = projection.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, snap.Current.Index)
}

func TestProjectionRanksCurrentRound(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "aya", "ken")
	projection := app.NewProjection(fx.store, nil, fx.room)

	round := fx.openRound(t)
	fx.answer(t, round, "aya", domain.ChoiceB)
	fx.answer(t, round, "ken", domain.ChoiceA)
	_, err := fx.rounds.SetCorrectChoice(ctx, round.ID, domain.ChoiceA)
	require.NoError(t, err)

	snap, err := projection.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Ranked, 1)
	require.Equal(t, fx.players["ken"].ID, snap.Ranked[0].PlayerID)
}

func (fx *fixture) closedRound(t *testing.T) domain.Round {
	t.Helper()
	ctx := context.Background()
	round := fx.openRound(t)
	round, err := fx.rounds.CloseRound(ctx, round.ID)
	require.NoError(t, err)
	round, err = fx.rounds.SetCorrectChoice(ctx, round.ID, domain.ChoiceA)
	require.NoError(t, err)
	return round
}

func (fx *fixture) scoredRound(t *testing.T) domain.Round {
	t.Helper()
	round := fx.closedRound(t)
	outcome, err := app.NewScorer(fx.store).ApplyScores(context.Background(), round.ID, domain.DefaultWeights)
	require.NoError(t, err)
	require.Equal(t, app.ScoreApplied, outcome)
	return round
}
