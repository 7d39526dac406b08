package app

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/deviceagent/hal"
	"github.com/autopeer-io/fwagent/internal/pkg/nvs"
	"github.com/autopeer-io/fwagent/pkg/options"
)

func newBanksCommand() *cobra.Command {
	halOpts := options.NewHALOptions()
	nvsOpts := options.NewNVSOptions()

	cmd := &cobra.Command{
		Use:          "banks",
		Short:        "Show the storage banks and the persisted boot record",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			platform, err := hal.New(halOpts)
			if err != nil {
				return err
			}

			kv, err := nvs.Open(nvsOpts.Path)
			if err != nil {
				return err
			}
			defer kv.Close()

			rec, err := bootrecord.NewStore(kv).Read(cmd.Context())
			if err != nil {
				return err
			}
			return printBanks(cmd.OutOrStdout(), platform, rec)
		},
	}

	halOpts.AddFlags(cmd.Flags())
	nvsOpts.AddFlags(cmd.Flags())
	return cmd
}

type bankLister interface {
	RunningBank() (core.StorageBank, error)
	BootBank() (core.StorageBank, error)
	NextUpdateBank() (core.StorageBank, error)
}

func printBanks(w io.Writer, platform bankLister, rec *bootrecord.BootRecord) error {
	running, err := platform.RunningBank()
	if err != nil {
		return err
	}
	boot, err := platform.BootBank()
	if err != nil {
		return err
	}
	next, err := platform.NextUpdateBank()
	if err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("LABEL", "ADDRESS", "SIZE", "RUNNING", "BOOT", "LAST BOOT", "PENDING")

	for _, b := range []core.StorageBank{running, next} {
		lastBoot, pending := "", ""
		if rec != nil {
			lastBoot = mark(rec.LastBootBankAddress == b.Address)
			pending = mark(rec.HasPending() && rec.PendingBankAddress == b.Address)
		}
		table.AddRow(
			b.Label,
			fmt.Sprintf("0x%x", b.Address),
			humanize.IBytes(b.Size),
			mark(b == running),
			mark(b == boot),
			lastBoot,
			pending,
		)
	}

	if rec == nil {
		table.AddRow("", "", "", "", "", "(no boot record)", "")
	}

	_, err = fmt.Fprintln(w, table)
	return err
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}

