package ota

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// formatElapsed renders d as mm:ss; minutes keep growing past an hour.
func formatElapsed(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// formatDuration renders d as hh:mm:ss.
func formatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

func progressMessage(elapsed time.Duration) string {
	return formatElapsed(elapsed) + " elapsed..."
}

func completedMessage(d time.Duration) string {
	return "OTA COMPLETED. Duration: " + formatDuration(d)
}

func failedMessage(err *UpdateError) string {
	reason := "unknown"
	if err.Err != nil {
		reason = err.Err.Error()
	}
	return fmt.Sprintf("OTA FAILED: %s: %s", err.Kind, reason)
}

// devicePayload keys message by device identity.
func devicePayload(device, message string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{device: message})
}
