package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"live-quiz-service/internal/domain"
)

func TestParseNotification(t *testing.T) {
	change, err := parseNotification(`{"room_code":"4821","table":"answers"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if change != (domain.Change{RoomCode: "4821", Table: domain.TableAnswers}) {
		t.Fatalf("unexpected change %+v", change)
	}

	if _, err := parseNotification(`{"table":"answers"}`); err == nil {
		t.Fatalf("expected error for missing room")
	}
	if _, err := parseNotification(`not json`); err == nil {
		t.Fatalf("expected error for bad payload")
	}
}

func TestListenerBackoffFollowsClock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClock()
	l := NewListener(nil, nil, clock)

	done := make(chan bool, 1)
	go func() { done <- l.backoff(ctx) }()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("backoff never waited: %v", err)
	}
	clock.Advance(l.retryDelay)
	if ok := <-done; !ok {
		t.Fatalf("expected backoff to complete after retry delay")
	}

	stopped, stop := context.WithCancel(ctx)
	stop()
	if l.backoff(stopped) {
		t.Fatalf("expected backoff to give up on a cancelled context")
	}
}
