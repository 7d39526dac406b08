package paths

// Topic segments between the fleet backend and the device agent.
// Every topic is {root}/{segment}/{deviceName}.

// Downstream: backend -> device.
const (
	// OTAUpdate carries firmware update commands.
	// Payload: { "controller": "https://...", "checksum": "<64 hex>" }
	OTAUpdate = "ota/update"

	// Reboot asks the device to restart when no update is in flight.
	// Payload: { "value": true }
	Reboot = "device/reboot"
)

// Upstream: device -> backend.
const (
	// OTAProgress carries progress, completion and failure reports.
	// Payload: { "<deviceName>": "<message>" }
	OTAProgress = "ota/progress"

	// Boot carries the one-shot boot origin report.
	Boot = "boot"

	// Online carries the retained online/offline status (also the LWT).
	Online = "online"

	// Heartbeat carries the periodic liveness report.
	// Payload: { "status": "alive", "endpoint": "<deviceName>" }
	Heartbeat = "heartbeat"
)
