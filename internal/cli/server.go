package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	natsfeed "live-quiz-service/internal/infra/nats"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	weights, err := cfg.Weights()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	clock := clockwork.NewRealClock()
	hub := memory.NewHub()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var (
		publisher app.ChangePublisher
		feed      app.ChangeFeed
	)
	switch cfg.Notify.Driver {
	case config.DriverMemory:
		publisher, feed = hub, hub
	case config.DriverRedis:
		notifier := redisinfra.NewNotifier(redisClient)
		publisher, feed = notifier, notifier
	case config.DriverNATS:
		conn, err := natsfeed.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer conn.Drain()
		notifier := natsfeed.NewNotifier(conn)
		publisher, feed = notifier, notifier
	case config.DriverPostgres:
		// Triggers publish; the listener fans notifications into the hub.
		feed = hub
	}

	var store app.Store
	switch cfg.Store.Driver {
	case config.DriverMemory:
		store = memory.NewStore(clock, publisher)
	case config.DriverPostgres:
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		store = postgres.NewStore(db, publisher)

		if cfg.Notify.Driver == config.DriverPostgres {
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			listener := postgres.NewListener(pool, hub, clock)
			g.Go(func() error { return listener.Start(gctx) })
		}
	}

	identityTTL := config.Duration(cfg.Identity.TTL, 12*time.Hour)
	rankTTL := config.Duration(cfg.RankCache.TTL, 10*time.Minute)

	var identities app.IdentityStore = memory.NewIdentityStore(clock, identityTTL)
	var ranks app.RankReader = memory.NewRankCache(clock, store, rankTTL)
	if redisClient != nil {
		identities = redisinfra.NewIdentityStore(redisClient, identityTTL)
		ranks = redisinfra.NewRankCache(redisClient, store, rankTTL)
	}

	rooms := app.NewRoomService(store, identities)
	wsHandler := transport.NewWSHandler(rooms, app.SessionDeps{
		Store:          store,
		Feed:           feed,
		Ranks:          ranks,
		Clock:          clock,
		RevealInterval: config.Duration(cfg.Reveal.Interval, app.DefaultRevealInterval),
	}, weights)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(rooms, wsHandler),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g.Go(func() error {
		log.Info().
			Str("port", finalPort).
			Str("store", cfg.Store.Driver).
			Str("notify", cfg.Notify.Driver).
			Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
