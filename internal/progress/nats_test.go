package progress

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSChannel_PublishSubscribe(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	channel := NewNATSChannel(nc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, err := channel.Subscribe(ctx, 1)
	require.NoError(t, err)
	theirs, err := channel.Subscribe(ctx, 2)
	require.NoError(t, err)

	state := NewState("run-1", 1)
	state.Saving = 3
	require.NoError(t, channel.Publish(ctx, state))

	got := receive(t, mine)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 3, got.Saving)
	assertSilent(t, theirs)
}

func TestNATSChannel_Subject(t *testing.T) {
	assert.Equal(t, "timesheet.progress.42", Subject(42))
}

func TestNATSChannel_PublishCancelled(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	channel := NewNATSChannel(nc, slog.New(slog.NewTextHandler(os.Stdout, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, channel.Publish(ctx, NewState("run-1", 1)), context.Canceled)
}
