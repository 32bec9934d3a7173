package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"live-quiz-service/internal/domain"
	natsfeed "live-quiz-service/internal/infra/nats"
)

func TestNATSNotifierDeliversPerRoom(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	requireDocker(t)

	url, cleanup := startNATS(t, ctx)
	defer cleanup()

	pubConn, err := natsfeed.Connect(url)
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pubConn.Close()
	subConn, err := natsfeed.Connect(url)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer subConn.Close()

	publisher := natsfeed.NewNotifier(pubConn)
	feed := natsfeed.NewNotifier(subConn)

	changes, unsubscribe, err := feed.Subscribe(ctx, "4821")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := subConn.Flush(); err != nil {
		t.Fatalf("flush subscription: %v", err)
	}

	if err := publisher.Publish(ctx, domain.Change{RoomCode: "1234", Table: domain.TablePlayers}); err != nil {
		t.Fatalf("publish other room: %v", err)
	}
	want := domain.Change{RoomCode: "4821", Table: domain.TableAnswers}
	if err := publisher.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-changes:
		if got != want {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change delivered")
	}
	select {
	case extra := <-changes:
		t.Fatalf("unexpected change from another room: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-changes; ok {
		t.Fatalf("expected channel closed after cancel")
	}
	if err := publisher.Publish(ctx, want); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
	if err := pubConn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := subConn.NumSubscriptions(); n != 0 {
		t.Fatalf("expected no live subscriptions, got %d", n)
	}
}

func startNATS(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "nats:2-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start nats: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("nats host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		t.Fatalf("nats port: %v", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(context.Background())
	}
}
