package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/hal"
)

func TestPrintBanks(t *testing.T) {
	platform := hal.NewMemoryHAL("dev-1", 1<<20)
	banks := platform.Banks()

	var out bytes.Buffer
	rec := &bootrecord.BootRecord{LastBootBankAddress: banks[0].Address, PendingBankAddress: banks[1].Address}
	require.NoError(t, printBanks(&out, platform, rec))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "LABEL")
	assert.Contains(t, lines[1], "ota_0")
	assert.Contains(t, lines[1], "0x10000")
	assert.Contains(t, lines[1], "1.0 MiB")
	assert.Contains(t, lines[2], "ota_1")
	assert.Contains(t, lines[2], "0x110000")
}

func TestPrintBanksWithoutRecord(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printBanks(&out, hal.NewMemoryHAL("dev-1", 4096), nil))
	assert.Contains(t, out.String(), "(no boot record)")
}
