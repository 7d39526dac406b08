package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// Example: "coop/v1/boot/+" matches "coop/v1/boot/coop-controller".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#". It must be the last level.
	// Example: "coop/v1/#" matches "coop/v1/ota/progress/coop-controller".
	MultiWildcard = "#"
)
