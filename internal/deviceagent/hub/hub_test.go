package hub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

type published struct {
	topic   string
	retain  bool
	payload string
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	published  []published
	subscribed map[string]mqtt.MessageHandler
	listeners  []mqtt.ConnectionListener
	awaitErr   error
}

var _ mqtt.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{subscribed: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeClient) Start(context.Context) error { return nil }
func (f *fakeClient) Disconnect(context.Context) { f.setConnected(false) }

func (f *fakeClient) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, retain: retain, payload: string(payload)})
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ int, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = handler
	return nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, topic)
	return nil
}

func (f *fakeClient) AwaitConnection(context.Context) error {
	if f.awaitErr != nil {
		return f.awaitErr
	}
	f.setConnected(true)
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) AddConnectionListener(fn mqtt.ConnectionListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeClient) setConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	listeners := append([]mqtt.ConnectionListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(up)
	}
}

type observer struct {
	mu     sync.Mutex
	states []bool
}

func (o *observer) OnConnectionChange(connected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, connected)
}

func TestSendUsesDeviceTopics(t *testing.T) {
	fc := newFakeClient()
	h := New("dev-1", fc, mqtttopic.NewBuilder("coop/v1"))

	msg, err := structpb.NewStruct(map[string]any{"dev-1": "00:01 elapsed..."})
	require.NoError(t, err)

	require.NoError(t, h.SendProto(context.Background(), core.EventOTAProgress, msg))
	require.NoError(t, h.Send(context.Background(), core.EventOnline, []byte(`{"online":true}`)))

	require.Len(t, fc.published, 2)
	assert.Equal(t, "coop/v1/ota/progress/dev-1", fc.published[0].topic)
	assert.False(t, fc.published[0].retain)
	assert.JSONEq(t, `{"dev-1":"00:01 elapsed..."}`, fc.published[0].payload)

	assert.Equal(t, "coop/v1/online/dev-1", fc.published[1].topic)
	assert.True(t, fc.published[1].retain)

	assert.Error(t, h.Send(context.Background(), core.EventType("unknown"), nil))
}

func TestStartSubscribesRoutes(t *testing.T) {
	fc := newFakeClient()
	h := New("dev-1", fc, mqtttopic.NewBuilder("coop/v1"))

	var got []byte
	require.NoError(t, h.Register(core.EventOTACommand, func(_ context.Context, p []byte) error {
		got = p
		return nil
	}))
	assert.Error(t, h.Register(core.EventType("unknown"), nil))

	require.NoError(t, h.Start(context.Background()))
	assert.True(t, h.IsConnected())

	handler, ok := fc.subscribed["coop/v1/ota/update/dev-1"]
	require.True(t, ok)
	handler(context.Background(), "coop/v1/ota/update/dev-1", []byte("payload"))
	assert.Equal(t, []byte("payload"), got)
}

func TestStartFailsWhenConnectionNeverComes(t *testing.T) {
	fc := newFakeClient()
	fc.awaitErr = errors.New("context canceled")
	h := New("dev-1", fc, mqtttopic.NewBuilder("coop/v1"))

	assert.Error(t, h.Start(context.Background()))
}

func TestConnectivityFanOut(t *testing.T) {
	fc := newFakeClient()
	h := New("dev-1", fc, mqtttopic.NewBuilder("coop/v1"))

	o := &observer{}
	h.Observe(o)

	require.NoError(t, h.Start(context.Background()))
	h.Stop()

	assert.Equal(t, []bool{true, false}, o.states)
}
