package ota

import (
	"context"
	"sync"
	"sync/atomic"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
)

const commandQueueSize = 8

// RebootCommand is the payload received on the reboot topic.
type RebootCommand struct {
	Value bool `json:"value"`
}

// Manager is the update supervisor. Commands are queued by the transport
// callbacks and consumed by Run, which owns the single-session invariant.
type Manager struct {
	cfg       Config
	engine    *Engine
	verifier  *Verifier
	records   bootrecord.Store
	restarter core.Restarter
	clock     clock.Clock

	platform core.Platform
	sender   core.Sender

	guard    *Guard
	commands chan Request
	online   atomic.Bool
	workers  sync.WaitGroup

	// sessionDone, when set, receives every finished session.
	sessionDone func(Session)

	// claimed, when set, runs right after a command takes the session slot.
	claimed func()
}

var (
	_ core.Module             = (*Manager)(nil)
	_ core.Runnable           = (*Manager)(nil)
	_ core.ConnectionObserver = (*Manager)(nil)
)

func NewManager(cfg Config, engine *Engine, verifier *Verifier, records bootrecord.Store, restarter core.Restarter) *Manager {
	return &Manager{
		cfg:       cfg,
		engine:    engine,
		verifier:  verifier,
		records:   records,
		restarter: restarter,
		clock:     clock.RealClock{},
		guard:     NewGuard(),
		commands:  make(chan Request, commandQueueSize),
	}
}

func (m *Manager) Name() string {
	return "OTA"
}

func (m *Manager) Setup(ctx context.Context, platform core.Platform, sender core.Sender) error {
	m.platform = platform
	m.sender = sender
	return nil
}

func (m *Manager) Routes() map[core.EventType]core.HandlerFunc {
	return map[core.EventType]core.HandlerFunc{
		core.EventOTACommand:    core.JSONAdapter(m.HandleCommand),
		core.EventRebootCommand: core.JSONAdapter(m.HandleReboot),
	}
}

// HandleCommand queues an update command for Run. It never blocks.
func (m *Manager) HandleCommand(ctx context.Context, cmd *Command) error {
	req := cmd.Request()
	select {
	case m.commands <- req:
	default:
		log.Warn("Update command queue full, command rejected", "source", req.SourceURL)
		metrics.UpdateSessions.WithLabelValues("rejected").Inc()
	}
	return nil
}

// HandleReboot restarts the device unless an update holds the session slot.
func (m *Manager) HandleReboot(ctx context.Context, cmd *RebootCommand) error {
	if !cmd.Value {
		return nil
	}

	h, ok := m.guard.TryBegin(context.WithoutCancel(ctx))
	if !ok {
		log.Warn("Reboot command rejected, update in progress")
		return nil
	}
	defer m.guard.End(h)

	return m.restarter.Restart(h.Context(), "reboot command")
}

// OnConnectionChange invalidates the live session on disconnect.
func (m *Manager) OnConnectionChange(connected bool) {
	m.online.Store(connected)
	if !connected && m.guard.Invalidate() {
		log.Warn("Broker connection lost, cancelling update session")
	}
}

// Busy reports whether an update session holds the slot.
func (m *Manager) Busy() bool {
	return m.guard.Busy()
}

func (m *Manager) Run(ctx context.Context) error {
	log.Info("Update supervisor started")
	defer func() {
		m.guard.Invalidate()
		m.workers.Wait()
		log.Info("Update supervisor stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-m.commands:
			m.dispatch(ctx, req)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, req Request) {
	if !m.online.Load() {
		log.Warn("Update command rejected, broker offline", "source", req.SourceURL)
		metrics.UpdateSessions.WithLabelValues("rejected").Inc()
		return
	}

	h, ok := m.guard.TryBegin(ctx)
	if !ok {
		log.Warn("Update command rejected, another session is active", "source", req.SourceURL)
		metrics.UpdateSessions.WithLabelValues("rejected").Inc()
		return
	}

	if m.claimed != nil {
		m.claimed()
	}
	// A disconnect between the first check and TryBegin found no live handle
	// to cancel. OnConnectionChange stores the flag before invalidating, so
	// one of the two checks observes it.
	if !m.online.Load() {
		m.guard.End(h)
		log.Warn("Update command rejected, broker went offline", "source", req.SourceURL)
		metrics.UpdateSessions.WithLabelValues("rejected").Inc()
		return
	}

	o := NewOrchestrator(h.ID(), m.cfg, Collaborators{
		Platform:  m.platform,
		Engine:    m.engine,
		Verifier:  m.verifier,
		Records:   m.records,
		Sender:    m.sender,
		Restarter: m.restarter,
		Clock:     m.clock,
	})

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		defer m.guard.End(h)

		err := o.BeginUpdate(h.Context(), req)
		metrics.UpdateSessions.WithLabelValues(sessionResult(err)).Inc()

		if m.sessionDone != nil {
			m.sessionDone(o.Session())
		}
	}()
}

func sessionResult(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case KindOf(err) == Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}
