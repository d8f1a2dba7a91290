package mqtt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/errors"
)

// bus is an in-memory broker shared by fakeClients.
type bus struct {
	mu   sync.Mutex
	subs map[string][]func([]byte)
}

func newBus() *bus { return &bus{subs: map[string][]func([]byte){}} }

type fakeClient struct {
	bus       *bus
	connected bool
	published int
}

func (f *fakeClient) Connect(context.Context) error { f.connected = true; return nil }

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	if !f.connected {
		return errors.NewStd("not connected")
	}
	f.published++
	f.bus.mu.Lock()
	handlers := append([]func([]byte){}, f.bus.subs[topic]...)
	f.bus.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (f *fakeClient) Subscribe(topic string, h func([]byte)) error {
	f.bus.mu.Lock()
	defer f.bus.mu.Unlock()
	f.bus.subs[topic] = append(f.bus.subs[topic], h)
	return nil
}

func (f *fakeClient) IsConnected() bool { return f.connected }
func (f *fakeClient) Disconnect()       { f.connected = false }

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

const topic = "voterimport/resolver/invalidate"

func TestBroadcastInvalidatesOtherSubscribers(t *testing.T) {
	b := newBus()
	workerA, workerB := &countingInvalidator{}, &countingInvalidator{}

	for _, target := range []*countingInvalidator{workerA, workerB} {
		bc := NewBroadcaster(&fakeClient{bus: b, connected: true}, topic, target)
		require.NoError(t, bc.Start())
	}

	cli := &fakeClient{bus: b, connected: true}
	publisher := NewBroadcaster(cli, topic, nil)
	require.NoError(t, publisher.Start())
	require.NoError(t, publisher.Broadcast(context.Background(), "surnames load"))

	assert.Equal(t, int32(1), workerA.n.Load())
	assert.Equal(t, int32(1), workerB.n.Load())
	assert.Equal(t, 1, cli.published)
}

func TestBroadcasterIgnoresOwnMessages(t *testing.T) {
	b := newBus()
	self := &countingInvalidator{}
	bc := NewBroadcaster(&fakeClient{bus: b, connected: true}, topic, self)
	require.NoError(t, bc.Start())

	require.NoError(t, bc.Broadcast(context.Background(), "reload"))
	assert.Zero(t, self.n.Load())
}

func TestBroadcasterIgnoresMalformedPayload(t *testing.T) {
	target := &countingInvalidator{}
	bc := NewBroadcaster(&fakeClient{bus: newBus()}, topic, target)
	bc.handle([]byte("not json"))
	assert.Zero(t, target.n.Load())
}

func TestBroadcastFailsWhenDisconnected(t *testing.T) {
	bc := NewBroadcaster(&fakeClient{bus: newBus()}, topic, nil)
	require.Error(t, bc.Broadcast(context.Background(), "reload"))
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker: "tcp://mqtt:1883", Topic: topic, ClientID: "worker", QoS: 5,
	})
	assert.Equal(t, "tcp://mqtt:1883", cfg.Broker)
	assert.Equal(t, byte(2), cfg.QoS)
	assert.Equal(t, DefaultConfig().ConnectTimeout, cfg.ConnectTimeout)
}

func TestClientRejectsInvalidBrokerURL(t *testing.T) {
	c := NewClient(Config{Broker: "://bad", ClientID: "x"}, nil)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTT))
	assert.False(t, c.IsConnected())
}

func TestPublishWithoutConnectionFails(t *testing.T) {
	c := NewClient(DefaultConfig(), nil)
	err := c.Publish(context.Background(), topic, []byte("{}"))
	require.Error(t, err)
}
