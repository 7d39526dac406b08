package deviceagent

import (
	"os"
	"strings"

	"github.com/autopeer-io/fwagent/pkg/log"
)

const (
	deviceNameEnv  = "CPEER_DEVICE_NAME"
	deviceNameFile = "/etc/cpeer/device-name"
)

// DiscoverDeviceName looks up a provisioned device identity, first in the
// environment and then in a file written at provisioning time. It returns ""
// when neither is set; the platform then falls back to the hostname.
func DiscoverDeviceName() string {
	return discoverDeviceName(os.Getenv, deviceNameFile)
}

func discoverDeviceName(getenv func(string) string, path string) string {
	if id := strings.TrimSpace(getenv(deviceNameEnv)); id != "" {
		log.Info("Device name detected from env", "name", id)
		return id
	}

	if content, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Info("Device name detected from file", "name", id, "path", path)
			return id
		}
	}

	return ""
}
