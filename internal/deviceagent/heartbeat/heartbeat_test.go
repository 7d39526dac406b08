package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/deviceagent/hal"
)

type sender struct {
	mu       sync.Mutex
	payloads []string
}

func (s *sender) Send(_ context.Context, event core.EventType, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event == core.EventHeartbeat {
		s.payloads = append(s.payloads, string(payload))
	}
	return nil
}

func (s *sender) SendProto(ctx context.Context, event core.EventType, msg proto.Message) error {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return s.Send(ctx, event, b)
}

func (s *sender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func TestReporterBeatsOnInterval(t *testing.T) {
	fake := testingclock.NewFakeClock(time.Now())
	s := &sender{}

	r := New(time.Minute)
	r.clock = fake
	require.NoError(t, r.Setup(context.Background(), hal.NewMemoryHAL("coop-1", 16), s))
	assert.Nil(t, r.Routes())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return s.count() == 1 }, time.Second, time.Millisecond)

	fake.Step(time.Minute)
	require.Eventually(t, func() bool { return s.count() == 2 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.JSONEq(t, `{"status":"alive","endpoint":"coop-1"}`, s.payloads[0])
}
