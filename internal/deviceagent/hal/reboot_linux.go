//go:build linux

package hal

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/autopeer-io/fwagent/pkg/log"
)

// rebootExitCode is used when the agent is not init and cannot restart the
// machine itself; the service manager is expected to start it again.
const rebootExitCode = 3

func systemReboot() error {
	unix.Sync()
	if os.Getpid() != 1 {
		log.Warn("Not running as pid 1, exiting instead of rebooting", "code", rebootExitCode)
		log.Flush()
		os.Exit(rebootExitCode)
	}
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}

func syncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}
