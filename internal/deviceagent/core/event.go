package core

type EventType string

const (
	EventOTACommand    EventType = "ota.command"
	EventOTAProgress   EventType = "ota.progress"
	EventBootReport    EventType = "boot.report"
	EventOnline        EventType = "device.online"
	EventHeartbeat     EventType = "device.heartbeat"
	EventRebootCommand EventType = "device.reboot"
)
