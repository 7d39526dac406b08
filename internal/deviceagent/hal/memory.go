package hal

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// MemoryHAL keeps both banks in memory. Reboots are simulated: the boot
// target becomes the running bank and the reset reason becomes software.
// It supports fault injection for exercising failure paths.
type MemoryHAL struct {
	mu sync.Mutex

	name    string
	banks   [2]core.StorageBank
	data    [2][]byte
	running int
	boot    int
	reset   core.ResetReason

	failWrites   int
	failWriteErr error
	failSetBoot  error
	onWrite      func(bank core.StorageBank, offset uint64, n int)

	reboots      int
	setBootCalls int
}

var _ core.Platform = (*MemoryHAL)(nil)

func NewMemoryHAL(name string, bankSize uint64) *MemoryHAL {
	h := &MemoryHAL{
		name:  name,
		banks: bankLayout(bankSize),
		reset: core.ResetPowerOn,
	}
	for i := range h.data {
		h.data[i] = bytes.Repeat([]byte{erasedByte}, int(bankSize))
	}
	return h
}

func (h *MemoryHAL) DeviceName() string { return h.name }

func (h *MemoryHAL) RunningBank() (core.StorageBank, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.banks[h.running], nil
}

func (h *MemoryHAL) BootBank() (core.StorageBank, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.banks[h.boot], nil
}

func (h *MemoryHAL) NextUpdateBank() (core.StorageBank, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.banks[1-h.running], nil
}

func (h *MemoryHAL) EraseBank(bank core.StorageBank) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, err := h.writable(bank)
	if err != nil {
		return err
	}
	for j := range h.data[i] {
		h.data[i][j] = erasedByte
	}
	return nil
}

func (h *MemoryHAL) WriteBank(bank core.StorageBank, offset uint64, p []byte) error {
	h.mu.Lock()
	i, err := h.writable(bank)
	if err == nil {
		err = checkBounds(bank, offset, len(p))
	}
	if err == nil && h.failWrites > 0 {
		h.failWrites--
		err = h.failWriteErr
	}
	if err != nil {
		h.mu.Unlock()
		return err
	}
	copy(h.data[i][offset:], p)
	hook := h.onWrite
	h.mu.Unlock()

	if hook != nil {
		hook(bank, offset, len(p))
	}
	return nil
}

func (h *MemoryHAL) ReadBank(bank core.StorageBank, offset uint64, p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, err := indexOf(h.banks, bank)
	if err != nil {
		return err
	}
	if err := checkBounds(bank, offset, len(p)); err != nil {
		return err
	}
	copy(p, h.data[i][offset:])
	return nil
}

func (h *MemoryHAL) SetBootBank(bank core.StorageBank) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.setBootCalls++
	if h.failSetBoot != nil {
		return h.failSetBoot
	}
	i, err := indexOf(h.banks, bank)
	if err != nil {
		return err
	}
	h.boot = i
	return nil
}

func (h *MemoryHAL) ResetReason() core.ResetReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reset
}

func (h *MemoryHAL) Reboot() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reboots++
	h.running = h.boot
	h.reset = core.ResetSoftware
	log.Warn("Simulated reboot", "device", h.name, "running", h.banks[h.running].Label)
	return nil
}

func (h *MemoryHAL) writable(bank core.StorageBank) (int, error) {
	i, err := indexOf(h.banks, bank)
	if err != nil {
		return 0, err
	}
	if i == h.running {
		return 0, fmt.Errorf("refusing to modify running bank %s", bank)
	}
	return i, nil
}

// SetResetReason overrides the reset reason reported after the last reboot.
func (h *MemoryHAL) SetResetReason(r core.ResetReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset = r
}

// FailNextWrites makes the next n WriteBank calls return err.
func (h *MemoryHAL) FailNextWrites(n int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failWrites, h.failWriteErr = n, err
}

// FailSetBoot makes SetBootBank return err; nil clears the fault.
func (h *MemoryHAL) FailSetBoot(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failSetBoot = err
}

// OnWrite registers a hook called after every successful WriteBank.
func (h *MemoryHAL) OnWrite(fn func(bank core.StorageBank, offset uint64, n int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onWrite = fn
}

// FlipBit inverts one bit of a bank without going through the write path.
func (h *MemoryHAL) FlipBit(bank core.StorageBank, offset uint64, bit uint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, err := indexOf(h.banks, bank)
	if err != nil {
		return err
	}
	if offset >= uint64(len(h.data[i])) {
		return fmt.Errorf("offset %d outside bank %s", offset, bank)
	}
	h.data[i][offset] ^= 1 << (bit % 8)
	return nil
}

// Reboots returns how many times Reboot was called.
func (h *MemoryHAL) Reboots() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reboots
}

// SetBootCalls returns how many times SetBootBank was called.
func (h *MemoryHAL) SetBootCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setBootCalls
}

// Banks returns the bank layout, first bank first.
func (h *MemoryHAL) Banks() [2]core.StorageBank {
	return h.banks
}
