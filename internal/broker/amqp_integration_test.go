//go:build integration

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tphakala/voterimport/internal/conf"
)

func startRabbit(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	return "amqp://guest:guest@" + host + ":" + port.Port() + "/"
}

func TestAMQPDispatchAndConsume(t *testing.T) {
	url := startRabbit(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := conf.AMQPSettings{URL: url, Prefetch: 2, DialRetries: 5, DialBackoff: time.Second}
	transport, err := DialAMQP(ctx, settings, "imports-test")
	require.NoError(t, err)
	defer func() { _ = transport.Close() }()

	router := NewRouter()
	got := make(chan chunkPayload, 3)
	router.Handle("import_batch", func(_ context.Context, task *Task) error {
		p, err := Decode[chunkPayload](task)
		if err != nil {
			return err
		}
		got <- p
		return nil
	})
	exec := newExecutor(t, router, 1)

	consumeDone := make(chan error, 1)
	go func() { consumeDone <- transport.Consume(ctx, exec) }()

	for i := range 3 {
		_, err := transport.Dispatch(ctx, "import_batch", chunkPayload{UploadID: "u", ChunkIndex: i})
		require.NoError(t, err)
	}

	seen := map[int]bool{}
	for range 3 {
		select {
		case p := <-got:
			seen[p.ChunkIndex] = true
		case <-time.After(30 * time.Second):
			require.FailNow(t, "task not consumed")
		}
	}
	assert.Len(t, seen, 3)

	cancel()
	require.NoError(t, <-consumeDone)
}
