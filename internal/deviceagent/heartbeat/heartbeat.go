// Package heartbeat publishes a periodic liveness report.
package heartbeat

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// logEvery limits the "sent" log line to every Nth heartbeat.
const logEvery = 10

type Reporter struct {
	interval time.Duration
	clock    clock.WithTicker

	device string
	sender core.Sender
	count  int
}

var (
	_ core.Module   = (*Reporter)(nil)
	_ core.Runnable = (*Reporter)(nil)
)

func New(interval time.Duration) *Reporter {
	return &Reporter{interval: interval, clock: clock.RealClock{}}
}

func (r *Reporter) Name() string {
	return "Heartbeat"
}

func (r *Reporter) Setup(ctx context.Context, platform core.Platform, sender core.Sender) error {
	r.device = platform.DeviceName()
	r.sender = sender
	return nil
}

func (r *Reporter) Routes() map[core.EventType]core.HandlerFunc {
	return nil
}

// Run sends one heartbeat immediately, then one per interval.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			r.beat(ctx)
		}
	}
}

func (r *Reporter) beat(ctx context.Context) {
	msg, err := structpb.NewStruct(map[string]any{
		"status":   "alive",
		"endpoint": r.device,
	})
	if err != nil {
		log.Error(err, "Failed to build heartbeat")
		return
	}

	if err := r.sender.SendProto(ctx, core.EventHeartbeat, msg); err != nil {
		log.Warn("Failed to publish heartbeat", "error", err.Error())
		return
	}

	if r.count%logEvery == 0 {
		log.Info("Heartbeat sent", "count", r.count, "endpoint", r.device)
	}
	r.count++
}
