package hal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/pkg/log"
)

const (
	otadataFile     = "otadata"
	resetMarkerFile = "reset_reason"
)

// otadata is the persisted boot selection, replaced atomically.
type otadata struct {
	Boot string `json:"boot"`
}

// FileHAL stores each bank as a fixed-size file in dir. The boot target
// lives in dir/otadata; the bank it names at startup is the running bank.
type FileHAL struct {
	mu sync.Mutex

	dir     string
	name    string
	banks   [2]core.StorageBank
	running int
	boot    int
	reset   core.ResetReason

	reboot func() error
}

var _ core.Platform = (*FileHAL)(nil)

// NewFileHAL opens (or lays out) the banks in dir.
func NewFileHAL(dir, name string, bankSize uint64) (*FileHAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bank directory: %w", err)
	}

	h := &FileHAL{
		dir:    dir,
		name:   name,
		banks:  bankLayout(bankSize),
		reboot: systemReboot,
	}

	for _, b := range h.banks {
		if err := h.ensureBankFile(b); err != nil {
			return nil, err
		}
	}

	boot, err := h.readOtadata()
	if err != nil {
		return nil, err
	}
	h.boot, h.running = boot, boot

	h.reset = h.consumeResetMarker()

	log.Info("File platform ready",
		"dir", dir, "running", h.banks[h.running].Label, "reset", h.reset.String())
	return h, nil
}

func (h *FileHAL) DeviceName() string { return h.name }

func (h *FileHAL) RunningBank() (core.StorageBank, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.banks[h.running], nil
}

func (h *FileHAL) BootBank() (core.StorageBank, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.banks[h.boot], nil
}

func (h *FileHAL) NextUpdateBank() (core.StorageBank, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.banks[1-h.running], nil
}

func (h *FileHAL) EraseBank(bank core.StorageBank) error {
	if err := h.checkWritable(bank); err != nil {
		return err
	}

	f, err := os.OpenFile(h.bankPath(bank), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	block := bytes.Repeat([]byte{erasedByte}, 64*1024)
	for off := uint64(0); off < bank.Size; off += uint64(len(block)) {
		n := min(uint64(len(block)), bank.Size-off)
		if _, err := f.WriteAt(block[:n], int64(off)); err != nil {
			return fmt.Errorf("erase %s: %w", bank, err)
		}
	}
	return f.Sync()
}

func (h *FileHAL) WriteBank(bank core.StorageBank, offset uint64, p []byte) error {
	if err := h.checkWritable(bank); err != nil {
		return err
	}
	if err := checkBounds(bank, offset, len(p)); err != nil {
		return err
	}

	f, err := os.OpenFile(h.bankPath(bank), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(p, int64(offset)); err != nil {
		return fmt.Errorf("write %s at %d: %w", bank, offset, err)
	}
	return nil
}

func (h *FileHAL) ReadBank(bank core.StorageBank, offset uint64, p []byte) error {
	if _, err := indexOf(h.banks, bank); err != nil {
		return err
	}
	if err := checkBounds(bank, offset, len(p)); err != nil {
		return err
	}

	f, err := os.Open(h.bankPath(bank))
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.ReadAt(p, int64(offset)); err != nil {
		return fmt.Errorf("read %s at %d: %w", bank, offset, err)
	}
	return nil
}

// SetBootBank flushes the bank image and then atomically replaces otadata.
func (h *FileHAL) SetBootBank(bank core.StorageBank) error {
	i, err := indexOf(h.banks, bank)
	if err != nil {
		return err
	}

	if err := syncFile(h.bankPath(bank)); err != nil {
		return fmt.Errorf("sync %s: %w", bank, err)
	}

	raw, err := json.Marshal(otadata{Boot: bank.Label})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(h.dir, otadataFile), raw); err != nil {
		return fmt.Errorf("write otadata: %w", err)
	}

	h.mu.Lock()
	h.boot = i
	h.mu.Unlock()
	return nil
}

func (h *FileHAL) ResetReason() core.ResetReason {
	return h.reset
}

// Reboot leaves a marker so the next start reports a software reset.
func (h *FileHAL) Reboot() error {
	if err := writeFileAtomic(filepath.Join(h.dir, resetMarkerFile), []byte(core.ResetSoftware.String())); err != nil {
		log.Error(err, "Failed to write reset marker")
	}
	log.Warn("System is rebooting NOW...", "next", h.banks[h.boot].Label)
	return h.reboot()
}

func (h *FileHAL) checkWritable(bank core.StorageBank) error {
	i, err := indexOf(h.banks, bank)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if i == h.running {
		return fmt.Errorf("refusing to modify running bank %s", bank)
	}
	return nil
}

func (h *FileHAL) bankPath(bank core.StorageBank) string {
	return filepath.Join(h.dir, bank.Label+".img")
}

func (h *FileHAL) ensureBankFile(bank core.StorageBank) error {
	path := h.bankPath(bank)
	st, err := os.Stat(path)
	if err == nil {
		if uint64(st.Size()) != bank.Size {
			return fmt.Errorf("bank file %s is %d bytes, expected %d", path, st.Size(), bank.Size)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(int64(bank.Size))
}

// readOtadata returns the boot slot, defaulting to the first bank.
func (h *FileHAL) readOtadata() (int, error) {
	raw, err := os.ReadFile(filepath.Join(h.dir, otadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var d otadata
	if err := json.Unmarshal(raw, &d); err != nil {
		return 0, fmt.Errorf("corrupt otadata: %w", err)
	}
	for i, b := range h.banks {
		if b.Label == d.Boot {
			return i, nil
		}
	}
	return 0, fmt.Errorf("otadata names unknown bank %q", d.Boot)
}

func (h *FileHAL) consumeResetMarker() core.ResetReason {
	path := filepath.Join(h.dir, resetMarkerFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return core.ResetPowerOn
	}
	if err := os.Remove(path); err != nil {
		log.Error(err, "Failed to remove reset marker")
	}
	if string(bytes.TrimSpace(raw)) == core.ResetSoftware.String() {
		return core.ResetSoftware
	}
	return core.ResetUnknown
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// writeFileAtomic writes data to a temp file, syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(path))
}
