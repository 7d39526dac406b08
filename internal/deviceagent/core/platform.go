package core

import (
	"fmt"
)

// StorageBank is one of the two executable regions of the device. Banks are
// owned by the platform's partition table; callers only refer to them.
type StorageBank struct {
	Label   string
	Address uint32
	Size    uint64
}

func (b StorageBank) String() string {
	return fmt.Sprintf("%s@0x%x", b.Label, b.Address)
}

// ResetReason is why the device last came out of reset.
type ResetReason int

const (
	ResetUnknown ResetReason = iota
	ResetPowerOn
	ResetSoftware
	ResetWatchdog
	ResetPanic
)

func (r ResetReason) String() string {
	switch r {
	case ResetPowerOn:
		return "power-on"
	case ResetSoftware:
		return "software"
	case ResetWatchdog:
		return "watchdog"
	case ResetPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// IsSoftware reports whether the reset was requested by running code.
func (r ResetReason) IsSoftware() bool {
	return r == ResetSoftware
}

// BankReader reads raw bank contents.
type BankReader interface {
	ReadBank(bank StorageBank, offset uint64, p []byte) error
}

// BankWriter erases and writes bank contents.
type BankWriter interface {
	EraseBank(bank StorageBank) error
	WriteBank(bank StorageBank, offset uint64, p []byte) error
}

// Platform is the hardware abstraction the update subsystem drives.
type Platform interface {
	BankReader
	BankWriter

	// DeviceName is the identity used in topics and report payloads.
	DeviceName() string

	// RunningBank is the bank the current image executes from (Active).
	RunningBank() (StorageBank, error)

	// BootBank is the bank the bootloader will start next.
	BootBank() (StorageBank, error)

	// NextUpdateBank is the bank an update must be written to (Inactive).
	NextUpdateBank() (StorageBank, error)

	// SetBootBank makes bank the next boot target.
	SetBootBank(bank StorageBank) error

	ResetReason() ResetReason

	// Reboot restarts the device. It normally does not return.
	Reboot() error
}
