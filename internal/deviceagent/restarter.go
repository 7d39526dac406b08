package deviceagent

import (
	"context"
	"sync"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// restarter stops the network client, flushes logs and reboots. Only the
// first restart runs; later calls report the same outcome.
type restarter struct {
	platform core.Platform
	stop     func()

	once sync.Once
	err  error

	mu   sync.Mutex
	halt context.CancelFunc
}

var _ core.Restarter = (*restarter)(nil)

func newRestarter(platform core.Platform, stop func()) *restarter {
	return &restarter{platform: platform, stop: stop}
}

// bind sets the function stopping the agent when a reboot returns, which
// happens when the platform only simulates it or the reboot failed.
func (r *restarter) bind(halt context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halt = halt
}

func (r *restarter) Restart(ctx context.Context, reason string) error {
	r.once.Do(func() {
		log.Warn("Graceful restart", "reason", reason)
		r.stop()
		log.Flush()

		r.err = r.platform.Reboot()
		if r.err != nil {
			log.Error(r.err, "Reboot failed")
		}

		r.mu.Lock()
		halt := r.halt
		r.mu.Unlock()
		if halt != nil {
			halt()
		}
	})
	return r.err
}
