//go:build !linux

package hal

import (
	"os"

	"github.com/autopeer-io/fwagent/pkg/log"
)

const rebootExitCode = 3

func systemReboot() error {
	log.Warn("Reboot is simulated on this platform, exiting", "code", rebootExitCode)
	log.Flush()
	os.Exit(rebootExitCode)
	return nil
}

func syncDir(string) error { return nil }
