package deviceagent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootorigin"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/deviceagent/hub"
	"github.com/autopeer-io/fwagent/internal/deviceagent/server"
	"github.com/autopeer-io/fwagent/internal/deviceagent/timesync"
	"github.com/autopeer-io/fwagent/pkg/log"
)

type Agent struct {
	platform   core.Platform
	hub        *hub.Hub
	classifier *bootorigin.Classifier
	timesync   *timesync.Syncer
	server     *server.Server
	restarter  *restarter
	modules    []core.Module

	// closers run after every loop has returned.
	closers []func() error

	stopHub func()
	online  sync.Mutex
}

var _ core.ConnectionObserver = (*Agent)(nil)

// Run classifies the boot, connects and serves until ctx is done or a
// restart has been performed.
func (a *Agent) Run(ctx context.Context) (err error) {
	device := a.platform.DeviceName()
	log.Info("Starting cpeer-device-agent", "device", device)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.restarter.bind(cancel)

	defer func() {
		for _, c := range a.closers {
			err = multierr.Append(err, c())
		}
	}()

	if a.timesync != nil {
		if _, err := a.timesync.Sync(ctx); err != nil {
			log.Warn("Clock check failed, continuing", "error", err.Error())
		}
	}

	// Classification runs before any update command can be routed.
	origin, err := a.classifier.Classify(ctx)
	if err != nil {
		log.Error(err, "Boot origin classification failed")
	}
	log.Info("Boot origin", "origin", origin.String())

	var runnables []core.Runnable
	for _, m := range a.modules {
		if err := m.Setup(ctx, a.platform, a.hub); err != nil {
			return fmt.Errorf("module %s setup failed: %w", m.Name(), err)
		}

		for event, handler := range m.Routes() {
			if err := a.hub.Register(event, handler); err != nil {
				return fmt.Errorf("module %s register event %s failed: %w", m.Name(), event, err)
			}
		}

		if o, ok := m.(core.ConnectionObserver); ok {
			a.hub.Observe(o)
		}
		if r, ok := m.(core.Runnable); ok {
			runnables = append(runnables, r)
		}
	}
	a.hub.Observe(a)

	if err := a.hub.Start(ctx); err != nil {
		return err
	}
	defer a.stopHub()

	if err := a.classifier.Report(ctx, a.hub, origin); err != nil {
		log.Error(err, "Failed to publish boot report")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runnables {
		g.Go(func() error { return r.Run(gctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.server.Start(gctx) })
	}

	err = g.Wait()
	log.Info("Agent shutting down...")
	return err
}

// OnConnectionChange republishes the online status after every connect,
// replacing a retained offline status left by the broker's last will.
func (a *Agent) OnConnectionChange(connected bool) {
	if !connected {
		return
	}
	go a.announceOnline()
}

func (a *Agent) announceOnline() {
	a.online.Lock()
	defer a.online.Unlock()

	msg, err := onlineStatus(a.platform.DeviceName(), true, "")
	if err != nil {
		log.Error(err, "Failed to build online status")
		return
	}
	if err := a.hub.SendProto(context.Background(), core.EventOnline, msg); err != nil {
		log.Error(err, "Failed to publish online status")
		return
	}
	log.Info("Published online status")
}

func onlineStatus(device string, online bool, reason string) (*structpb.Struct, error) {
	fields := map[string]any{
		"endpoint": device,
		"online":   online,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	return structpb.NewStruct(fields)
}
