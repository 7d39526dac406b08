package ota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/pkg/log"
)

const defaultBlockSize = 4096

// Verifier hashes a whole bank, not just the bytes a transfer reported.
type Verifier struct {
	reader    core.BankReader
	blockSize int
}

func NewVerifier(reader core.BankReader, blockSize int) *Verifier {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	return &Verifier{reader: reader, blockSize: blockSize}
}

// Digest returns the lowercase hex SHA-256 of bank from offset 0 to its size.
func (v *Verifier) Digest(ctx context.Context, bank core.StorageBank) (string, error) {
	h := sha256.New()
	buf := make([]byte, v.blockSize)

	for offset := uint64(0); offset < bank.Size; {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n := uint64(len(buf))
		if remaining := bank.Size - offset; remaining < n {
			n = remaining
		}
		block := buf[:n]
		if err := v.reader.ReadBank(bank, offset, block); err != nil {
			return "", fmt.Errorf("read %s at %d: %w", bank, offset, err)
		}
		h.Write(block)
		offset += n
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares the bank digest to expected with exact string equality.
func (v *Verifier) Verify(ctx context.Context, bank core.StorageBank, expected string) (bool, error) {
	digest, err := v.Digest(ctx, bank)
	if err != nil {
		return false, err
	}

	log.Info("Computed bank digest", "bank", bank.String(), "expected", expected, "calculated", digest)
	return digest == expected, nil
}
