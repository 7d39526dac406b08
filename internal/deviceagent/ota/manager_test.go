package ota

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
)

type sessions struct {
	mu   sync.Mutex
	done []Session
}

func (s *sessions) add(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, session)
}

func (s *sessions) list() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Session(nil), s.done...)
}

func rejected() float64 {
	return testutil.ToFloat64(metrics.UpdateSessions.WithLabelValues("rejected"))
}

// startManager runs m until the test ends.
func startManager(t *testing.T, h *harness, m *Manager) {
	t.Helper()
	require.NoError(t, m.Setup(context.Background(), h.hal, h.sender))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// blockingServer holds every image request until release is closed.
func blockingServer(t *testing.T, image []byte) (*imageServer, chan struct{}) {
	release := make(chan struct{})
	srv := newImageServer(t, image, func(_ int32, _ http.ResponseWriter, r *http.Request) bool {
		select {
		case <-release:
		case <-r.Context().Done():
			return true
		}
		return false
	})
	return srv, release
}

func TestManagerRejectsWhileOffline(t *testing.T) {
	h := newHarness(t, 4096)
	m := h.manager()
	startManager(t, h, m)

	image := randomImage(t, 4096)
	srv := newImageServer(t, image, nil)
	before := rejected()

	require.NoError(t, m.HandleCommand(context.Background(), &Command{Controller: srv.Locator(), Checksum: digest(image)}))
	require.Eventually(t, func() bool { return rejected() == before+1 }, time.Second, time.Millisecond)
	assert.Zero(t, srv.hits.Load())
	assert.False(t, m.Busy())
}

func TestManagerRejectsWhenDisconnectRacesClaim(t *testing.T) {
	h := newHarness(t, 4096)
	m := h.manager()
	m.claimed = func() { m.OnConnectionChange(false) }
	startManager(t, h, m)
	m.OnConnectionChange(true)

	image := randomImage(t, 4096)
	srv := newImageServer(t, image, nil)
	before := rejected()

	require.NoError(t, m.HandleCommand(context.Background(), &Command{Controller: srv.Locator(), Checksum: digest(image)}))
	require.Eventually(t, func() bool { return rejected() == before+1 }, time.Second, time.Millisecond)
	assert.Zero(t, srv.hits.Load())
	assert.False(t, m.Busy())
	assert.Zero(t, h.restarter.Calls())
}

func TestManagerSingleSession(t *testing.T) {
	const size = 16 * 1024
	h := newHarness(t, size)
	m := h.manager()
	var finished sessions
	m.sessionDone = finished.add
	startManager(t, h, m)
	m.OnConnectionChange(true)

	image := randomImage(t, size)
	srv, release := blockingServer(t, image)
	cmd := &Command{Controller: srv.Locator(), Checksum: digest(image)}
	before := rejected()

	require.NoError(t, m.HandleCommand(context.Background(), cmd))
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, 5*time.Second, time.Millisecond)
	assert.True(t, m.Busy())

	// A second command is rejected, not queued.
	require.NoError(t, m.HandleCommand(context.Background(), cmd))
	require.Eventually(t, func() bool { return rejected() == before+1 }, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return len(finished.list()) == 1 && !m.Busy() }, 5*time.Second, time.Millisecond)

	s := finished.list()[0]
	assert.NoError(t, s.Err)
	assert.Equal(t, PhaseRebooting, s.Phase)
	assert.Equal(t, uint64(size), s.BytesTransferred)
	assert.EqualValues(t, 1, srv.hits.Load())
	assert.Equal(t, 1, h.restarter.Calls())
}

func TestManagerDisconnectCancelsSession(t *testing.T) {
	const size = 16 * 1024
	h := newHarness(t, size)
	m := h.manager()
	var finished sessions
	m.sessionDone = finished.add
	startManager(t, h, m)
	m.OnConnectionChange(true)

	image := randomImage(t, size)
	srv, release := blockingServer(t, image)
	cmd := &Command{Controller: srv.Locator(), Checksum: digest(image)}

	require.NoError(t, m.HandleCommand(context.Background(), cmd))
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, 5*time.Second, time.Millisecond)

	m.OnConnectionChange(false)
	require.Eventually(t, func() bool { return len(finished.list()) == 1 && !m.Busy() }, 5*time.Second, time.Millisecond)

	s := finished.list()[0]
	assert.Equal(t, Cancelled, KindOf(s.Err))
	assert.Zero(t, h.restarter.Calls())
	assert.Zero(t, h.hal.SetBootCalls())

	// After reconnecting, a fresh command starts a new attempt.
	close(release)
	m.OnConnectionChange(true)
	require.NoError(t, m.HandleCommand(context.Background(), cmd))
	require.Eventually(t, func() bool { return len(finished.list()) == 2 }, 5*time.Second, time.Millisecond)
	assert.NoError(t, finished.list()[1].Err)
	assert.Equal(t, 1, h.restarter.Calls())
}

func TestManagerRebootCommand(t *testing.T) {
	h := newHarness(t, 4096)
	m := h.manager()

	require.NoError(t, m.HandleReboot(context.Background(), &RebootCommand{Value: false}))
	assert.Zero(t, h.restarter.Calls())

	require.NoError(t, m.HandleReboot(context.Background(), &RebootCommand{Value: true}))
	assert.Equal(t, 1, h.restarter.Calls())
	assert.False(t, m.Busy())

	handle, ok := m.guard.TryBegin(context.Background())
	require.True(t, ok)
	require.NoError(t, m.HandleReboot(context.Background(), &RebootCommand{Value: true}))
	assert.Equal(t, 1, h.restarter.Calls(), "reboot must wait for the update to end")
	m.guard.End(handle)
}

func TestManagerRoutesDecodeJSON(t *testing.T) {
	h := newHarness(t, 4096)
	m := h.manager()

	routes := m.Routes()
	require.Len(t, routes, 2)

	for _, handler := range routes {
		assert.Error(t, handler(context.Background(), []byte("{not json")))
	}
}
