package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// Connect dials NATS with reconnect logging.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("live-quiz-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// Notifier carries room changes on one subject per room: quiz.room.{code}.
type Notifier struct {
	conn *nats.Conn
}

func NewNotifier(conn *nats.Conn) *Notifier {
	return &Notifier{conn: conn}
}

func (n *Notifier) Publish(_ context.Context, change domain.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(Subject(change.RoomCode), payload); err != nil {
		log.Error().Err(err).Str("room", change.RoomCode).Msg("error publishing change")
		return err
	}
	return nil
}

func (n *Notifier) Subscribe(_ context.Context, roomCode string) (<-chan domain.Change, func(), error) {
	out := make(chan domain.Change, 16)
	var (
		mu     sync.Mutex
		closed bool
	)

	sub, err := n.conn.Subscribe(Subject(roomCode), func(msg *nats.Msg) {
		change, err := decode(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("bad change payload")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- change:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", roomCode, err)
	}

	cancel := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		closed = true
		_ = sub.Unsubscribe()
		close(out)
	}
	return out, cancel, nil
}

// Subject is the per-room subject changes are published on.
func Subject(roomCode string) string {
	return "quiz.room." + roomCode
}

func decode(data []byte) (domain.Change, error) {
	var change domain.Change
	if err := json.Unmarshal(data, &change); err != nil {
		return domain.Change{}, err
	}
	return change, nil
}
