package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// NotifyChannel is the channel the table triggers pg_notify on.
const NotifyChannel = "quiz_changes"

// Listener holds a dedicated connection on LISTEN quiz_changes and forwards every
// notification to a local publisher, usually a memory.Hub that sessions subscribe to.
type Listener struct {
	pool       *pgxpool.Pool
	publisher  app.ChangePublisher
	clock      clockwork.Clock
	retryDelay time.Duration
}

func NewListener(pool *pgxpool.Pool, publisher app.ChangePublisher, clock clockwork.Clock) *Listener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Listener{pool: pool, publisher: publisher, clock: clock, retryDelay: time.Second}
}

// Start listens until ctx is done, reconnecting after connection loss.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().Str("channel", NotifyChannel).Msg("listener started")
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("listener shutting down")
			return nil
		}
		log.Error().Err(err).Dur("retry", l.retryDelay).Msg("listener connection lost")
		if !l.backoff(ctx) {
			return nil
		}
	}
}

// backoff waits retryDelay and reports false if ctx ended first.
func (l *Listener) backoff(ctx context.Context) bool {
	timer := l.clock.NewTimer(l.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		note, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := parseNotification(note.Payload)
		if err != nil {
			log.Warn().Err(err).Str("payload", note.Payload).Msg("invalid notification")
			continue
		}
		if err := l.publisher.Publish(ctx, change); err != nil {
			log.Error().Err(err).Str("room", change.RoomCode).Msg("failed to forward notification")
		}
	}
}

func parseNotification(payload string) (domain.Change, error) {
	var change domain.Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return domain.Change{}, err
	}
	if change.RoomCode == "" {
		return domain.Change{}, fmt.Errorf("notification without room_code")
	}
	return change, nil
}
