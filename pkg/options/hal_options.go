package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HALOptions)(nil)

const (
	HALDriverFile   = "file"
	HALDriverMemory = "memory"
)

// MaxBankSize keeps both banks, which start at 0x10000, inside the 32-bit
// address space so that no bank address wraps to zero.
const MaxBankSize uint64 = (1<<32 - 0x10000) / 2

// HALOptions selects and configures the platform driver.
type HALOptions struct {
	// Driver is "file" (banks stored as files) or "memory" (volatile, for simulation).
	Driver string `json:"driver" mapstructure:"driver"`

	// Dir holds the bank images and the boot target for the file driver.
	Dir string `json:"dir" mapstructure:"dir"`

	// BankSize is the size in bytes of each storage bank.
	BankSize uint64 `json:"bank-size" mapstructure:"bank-size"`

	// DeviceName overrides the hostname as the device identity.
	DeviceName string `json:"device-name" mapstructure:"device-name"`
}

func NewHALOptions() *HALOptions {
	return &HALOptions{
		Driver:   HALDriverFile,
		Dir:      "/var/lib/cpeer/banks",
		BankSize: 1 << 20,
	}
}

func (o *HALOptions) Validate() []error {
	errors := []error{}

	switch o.Driver {
	case HALDriverFile:
		if o.Dir == "" {
			errors = append(errors, fmt.Errorf("--hal.dir is required for the file driver"))
		}
	case HALDriverMemory:
	default:
		errors = append(errors, fmt.Errorf("--hal.driver must be %q or %q, got %q", HALDriverFile, HALDriverMemory, o.Driver))
	}

	if o.BankSize == 0 || o.BankSize > MaxBankSize {
		errors = append(errors, fmt.Errorf("--hal.bank-size must be between 1 and %d", MaxBankSize))
	}

	return errors
}

func (o *HALOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, "hal.driver", o.Driver, "Platform driver: 'file' or 'memory'.")
	fs.StringVar(&o.Dir, "hal.dir", o.Dir, "Directory holding bank images and the boot target.")
	fs.Uint64Var(&o.BankSize, "hal.bank-size", o.BankSize, "Size in bytes of each storage bank.")
	fs.StringVar(&o.DeviceName, "hal.device-name", o.DeviceName, "Device identity used in topics and reports. Defaults to the hostname.")
}
