package hub

import (
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/mqtt/paths"
)

var events = map[core.EventType]string{
	core.EventOTACommand:    paths.OTAUpdate,
	core.EventRebootCommand: paths.Reboot,
	core.EventOTAProgress:   paths.OTAProgress,
	core.EventBootReport:    paths.Boot,
	core.EventOnline:        paths.Online,
	core.EventHeartbeat:     paths.Heartbeat,
}

// retained events describe state rather than a moment, so late subscribers
// still see the latest value.
var retained = map[core.EventType]bool{
	core.EventOnline:     true,
	core.EventBootReport: true,
}

// Register routes messages arriving on event's topic to handler.
// Registration must happen before Start.
func (h *Hub) Register(event core.EventType, handler core.HandlerFunc) error {
	topic, err := h.Topic(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[topic] = handler
	return nil
}
