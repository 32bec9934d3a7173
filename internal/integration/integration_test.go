package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/cli"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	infraredis "live-quiz-service/internal/infra/redis"
)

func TestRoundLifecycleOnPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openDB(t, ctx, pgURL)
	defer db.Close()

	// Changes flow from the table triggers through LISTEN into the hub.
	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	hub := memory.NewHub()
	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	go func() { _ = postgres.NewListener(pool, hub, clockwork.NewRealClock()).Start(listenCtx) }()

	store := postgres.NewStore(db, nil)
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	rooms := app.NewRoomService(store, infraredis.NewIdentityStore(redisClient, time.Hour))
	rounds := app.NewRoundService(store, clockwork.NewRealClock())

	room, err := rooms.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	changes, unsubscribe, _ := hub.Subscribe(ctx, room.Code)
	defer unsubscribe()

	aya, ayaToken, err := rooms.Join(ctx, room.Code, "aya")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	ken, _, err := rooms.Join(ctx, room.Code, "ken")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	waitChange(t, changes, domain.TablePlayers)

	resumed, err := rooms.Resume(ctx, ayaToken)
	if err != nil || resumed.PlayerID != aya.ID {
		t.Fatalf("resume: %+v %v", resumed, err)
	}

	round, err := rounds.CreateRound(ctx, room.Code)
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	if _, err := store.InsertRound(ctx, room.Code, round.Index); !errors.Is(err, domain.ErrRoundInProgress) {
		t.Fatalf("expected index conflict, got %v", err)
	}

	if err := store.InsertAnswer(ctx, domain.Answer{RoomCode: room.Code, RoundID: round.ID, PlayerID: aya.ID, Choice: domain.ChoiceA}); !errors.Is(err, domain.ErrRoundNotOpen) {
		t.Fatalf("expected round not open, got %v", err)
	}
	if _, err := rounds.OpenRound(ctx, round.ID); err != nil {
		t.Fatalf("open: %v", err)
	}

	guard := app.NewAnswerGuard(store, clockwork.NewRealClock(), ken.ID)
	open, _ := store.GetRound(ctx, round.ID)
	if outcome, err := guard.Submit(ctx, open, domain.ChoiceB); err != nil || outcome != app.SubmitAccepted {
		t.Fatalf("ken answer: %s %v", outcome, err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := store.InsertAnswer(ctx, domain.Answer{RoomCode: room.Code, RoundID: round.ID, PlayerID: aya.ID, Choice: domain.ChoiceB}); err != nil {
		t.Fatalf("aya answer: %v", err)
	}
	if err := store.InsertAnswer(ctx, domain.Answer{RoomCode: room.Code, RoundID: round.ID, PlayerID: aya.ID, Choice: domain.ChoiceC}); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	waitChange(t, changes, domain.TableAnswers)

	if _, err := rounds.CloseRound(ctx, round.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := rounds.SetCorrectChoice(ctx, round.ID, domain.ChoiceB); err != nil {
		t.Fatalf("set correct: %v", err)
	}

	ranked, err := store.RankedAnswers(ctx, round.ID)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	if len(ranked) != 2 || ranked[0].PlayerID != ken.ID || ranked[1].Rank != 2 {
		t.Fatalf("unexpected ranking %+v", ranked)
	}

	// Two GM sessions race to score; exactly one application lands.
	var wg sync.WaitGroup
	outcomes := make([]app.ScoreOutcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = app.NewScorer(store).ApplyScores(ctx, round.ID, domain.DefaultWeights)
		}(i)
	}
	wg.Wait()
	applied := 0
	for _, o := range outcomes {
		if o == app.ScoreApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied, got %v", outcomes)
	}

	players, err := store.ListPlayers(ctx, room.Code)
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	totals := map[string]int{}
	for _, p := range players {
		totals[p.DisplayName] = p.TotalScore
	}
	if totals["ken"] != 100 || totals["aya"] != 70 {
		t.Fatalf("unexpected totals %v", totals)
	}

	cache := infraredis.NewRankCache(redisClient, store, time.Minute)
	cached, err := cache.RankedAnswers(ctx, round.ID)
	if err != nil || len(cached) != 2 {
		t.Fatalf("rank cache: %+v %v", cached, err)
	}

	if err := rooms.ResetScores(ctx, room.Code); err != nil {
		t.Fatalf("reset: %v", err)
	}
	reset, _ := store.GetPlayer(ctx, ken.ID)
	if reset.TotalScore != 0 {
		t.Fatalf("expected reset score, got %d", reset.TotalScore)
	}

	if err := rooms.Leave(ctx, ayaToken, resumed); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := rooms.Resume(ctx, ayaToken); !errors.Is(err, domain.ErrIdentityNotFound) {
		t.Fatalf("expected forgotten identity, got %v", err)
	}
	after, _ := store.RankedAnswers(ctx, round.ID)
	if len(after) != 2 {
		t.Fatalf("leaving must not rewrite past rankings, got %+v", after)
	}
}

func waitChange(t *testing.T, changes <-chan domain.Change, table string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case change := <-changes:
			if change.Table == table {
				return
			}
		case <-deadline:
			t.Fatalf("no %s change notified", table)
		}
	}
}

func openDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := cli.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(context.Background())
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(context.Background())
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
