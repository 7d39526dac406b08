// Package bootrecord persists which bank the device last booted from.
package bootrecord

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/fwagent/internal/pkg/nvs"
)

const (
	// Namespace keeps boot state apart from any other persisted settings.
	Namespace = "storage"

	keyBootBank    = "boot_part"
	keyPendingBank = "pending_part"
)

// BootRecord is the only update state that survives power loss.
type BootRecord struct {
	// LastBootBankAddress is the bank the device last booted from.
	LastBootBankAddress uint32

	// PendingBankAddress is the bank committed by an update and not yet
	// observed running. Zero when nothing is pending.
	PendingBankAddress uint32
}

// HasPending reports whether an update commit awaits confirmation.
func (r BootRecord) HasPending() bool {
	return r.PendingBankAddress != 0
}

// Store reads and writes the BootRecord. Writes are durable on return.
type Store interface {
	// Read returns nil and no error when no record has ever been written.
	Read(ctx context.Context) (*BootRecord, error)
	Write(ctx context.Context, rec BootRecord) error
}

type nvsStore struct {
	ns *nvs.Namespace
}

var _ Store = (*nvsStore)(nil)

// NewStore returns a Store backed by the given persisted key/value store.
func NewStore(kv *nvs.Store) Store {
	return &nvsStore{ns: kv.Namespace(Namespace)}
}

func (s *nvsStore) Read(ctx context.Context) (*BootRecord, error) {
	boot, err := s.ns.GetU32(ctx, keyBootBank)
	if errors.Is(err, nvs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read boot record: %w", err)
	}

	rec := &BootRecord{LastBootBankAddress: boot}

	pending, err := s.ns.GetU32(ctx, keyPendingBank)
	switch {
	case errors.Is(err, nvs.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("read pending boot bank: %w", err)
	default:
		rec.PendingBankAddress = pending
	}

	return rec, nil
}

func (s *nvsStore) Write(ctx context.Context, rec BootRecord) error {
	err := s.ns.Update(ctx, func(tx *nvs.Txn) error {
		if err := tx.SetU32(keyBootBank, rec.LastBootBankAddress); err != nil {
			return err
		}
		if rec.HasPending() {
			return tx.SetU32(keyPendingBank, rec.PendingBankAddress)
		}
		return tx.Erase(keyPendingBank)
	})
	if err != nil {
		return fmt.Errorf("write boot record: %w", err)
	}
	return nil
}
