package hal

import (
	"fmt"
	"os"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/pkg/options"
)

const (
	// firstBankAddress mirrors the usual flash layout: app slots start
	// after the bootloader and partition table.
	firstBankAddress uint32 = 0x10000

	bankLabelA = "ota_0"
	bankLabelB = "ota_1"

	// erasedByte is what an erased bank reads back as.
	erasedByte = 0xFF
)

// New builds the platform selected by opts.
func New(opts *options.HALOptions) (core.Platform, error) {
	name := opts.DeviceName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve device name: %w", err)
		}
		name = host
	}

	if opts.BankSize == 0 || opts.BankSize > options.MaxBankSize {
		return nil, fmt.Errorf("bank size %d out of range (1..%d)", opts.BankSize, options.MaxBankSize)
	}

	switch opts.Driver {
	case options.HALDriverMemory:
		return NewMemoryHAL(name, opts.BankSize), nil
	case options.HALDriverFile:
		return NewFileHAL(opts.Dir, name, opts.BankSize)
	default:
		return nil, fmt.Errorf("unknown hal driver %q", opts.Driver)
	}
}

func bankLayout(size uint64) [2]core.StorageBank {
	return [2]core.StorageBank{
		{Label: bankLabelA, Address: firstBankAddress, Size: size},
		{Label: bankLabelB, Address: firstBankAddress + uint32(size), Size: size},
	}
}

// indexOf returns the slot of bank in banks, matching on address.
func indexOf(banks [2]core.StorageBank, bank core.StorageBank) (int, error) {
	for i, b := range banks {
		if b.Address == bank.Address {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown bank %s", bank)
}

func checkBounds(bank core.StorageBank, offset uint64, n int) error {
	if offset+uint64(n) > bank.Size {
		return fmt.Errorf("access [%d, %d) outside bank %s of size %d", offset, offset+uint64(n), bank, bank.Size)
	}
	return nil
}
