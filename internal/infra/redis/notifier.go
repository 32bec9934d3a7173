package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// Notifier carries room changes between instances over Redis pub/sub, one
// channel per room: quiz:room:{code}.
type Notifier struct {
	client *redis.Client
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Publish(ctx context.Context, change domain.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, channel(change.RoomCode), payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription.
func (n *Notifier) Subscribe(ctx context.Context, roomCode string) (<-chan domain.Change, func(), error) {
	pubsub := n.client.Subscribe(ctx, channel(roomCode))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", roomCode, err)
	}

	out := make(chan domain.Change, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change domain.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad change payload")
					continue
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

func channel(roomCode string) string {
	return "quiz:room:" + roomCode
}
