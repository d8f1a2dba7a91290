//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestClientRoundTripAgainstMosquitto(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:2",
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.PortEndpoint(ctx, "1883/tcp", "tcp")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = endpoint

	sub := NewClient(cfg, nil)
	require.NoError(t, sub.Connect(ctx))
	defer sub.Disconnect()

	target := &countingInvalidator{}
	require.NoError(t, NewBroadcaster(sub, topic, target).Start())

	pub := NewClient(cfg, nil)
	require.NoError(t, pub.Connect(ctx))
	defer pub.Disconnect()
	require.NoError(t, NewBroadcaster(pub, topic, nil).Broadcast(ctx, "integration"))

	require.Eventually(t, func() bool { return target.n.Load() == 1 }, 10*time.Second, 50*time.Millisecond)
}
