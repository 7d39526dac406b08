package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

// Hub binds the device's modules to the MQTT session: it maps events to
// topics, routes downstream messages to handlers and fans out connectivity.
type Hub struct {
	device string

	mc     mqtt.Client
	topics *mqtttopic.Builder

	mu        sync.Mutex
	routes    map[string]core.HandlerFunc
	observers []core.ConnectionObserver
}

var _ core.Sender = (*Hub)(nil)

func New(device string, client mqtt.Client, topicbuilder *mqtttopic.Builder) *Hub {
	h := &Hub{
		device: device,
		mc:     client,
		topics: topicbuilder,
		routes: make(map[string]core.HandlerFunc),
	}
	client.AddConnectionListener(h.onConnectionChange)
	return h
}

// Topic returns the full topic for event on this device.
func (h *Hub) Topic(event core.EventType) (string, error) {
	segment, ok := events[event]
	if !ok {
		return "", fmt.Errorf("unmapped event: %s", event)
	}
	return h.topics.Build(segment, h.device), nil
}

func (h *Hub) Send(ctx context.Context, event core.EventType, payload []byte) error {
	topic, err := h.Topic(event)
	if err != nil {
		return err
	}
	return h.mc.Publish(ctx, topic, 1, retained[event], payload)
}

func (h *Hub) SendProto(ctx context.Context, event core.EventType, msg proto.Message) error {
	payload, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return h.Send(ctx, event, payload)
}

// Observe registers o for broker connectivity transitions.
func (h *Hub) Observe(o core.ConnectionObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

func (h *Hub) IsConnected() bool {
	return h.mc.IsConnected()
}

// Start connects, waits for the first CONNACK and subscribes every
// registered route. The client resubscribes on its own after a reconnect.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.mc.Start(ctx); err != nil {
		return err
	}

	if err := h.mc.AwaitConnection(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	routes := make(map[string]core.HandlerFunc, len(h.routes))
	for topic, handler := range h.routes {
		routes[topic] = handler
	}
	h.mu.Unlock()

	for topic, handler := range routes {
		err := h.mc.Subscribe(ctx, topic, 1, func(c context.Context, _ string, p []byte) {
			if handleErr := handler(c, p); handleErr != nil {
				log.Error(handleErr, "Handler execution failed", "topic", topic)
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (h *Hub) Stop() {
	log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.mc.Disconnect(ctx)
}

func (h *Hub) onConnectionChange(connected bool) {
	metrics.SetConnected(connected)

	h.mu.Lock()
	observers := append([]core.ConnectionObserver(nil), h.observers...)
	h.mu.Unlock()

	for _, o := range observers {
		o.OnConnectionChange(connected)
	}
}
