// Package bootorigin decides, once per start, why the device booted.
package bootorigin

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
)

type Origin int

const (
	NormalReboot Origin = iota
	FirstBootEver
	PostUpdateReboot
)

func (o Origin) String() string {
	switch o {
	case FirstBootEver:
		return "FirstBootEver"
	case PostUpdateReboot:
		return "PostUpdateReboot"
	default:
		return "NormalReboot"
	}
}

// Platform is the subset of core.Platform the classifier consults.
type Platform interface {
	DeviceName() string
	ResetReason() core.ResetReason
	BootBank() (core.StorageBank, error)
}

type Classifier struct {
	platform Platform
	store    bootrecord.Store
}

func NewClassifier(platform Platform, store bootrecord.Store) *Classifier {
	return &Classifier{platform: platform, store: store}
}

// Classify must run before any update can be accepted. Only a software
// reset consults the store; an absent record or a bank change rewrites it.
func (c *Classifier) Classify(ctx context.Context) (Origin, error) {
	reason := c.platform.ResetReason()
	if !reason.IsSoftware() {
		log.Info("Boot after non-software reset", "reason", reason.String())
		return NormalReboot, nil
	}

	current, err := c.platform.BootBank()
	if err != nil {
		return NormalReboot, fmt.Errorf("query boot bank: %w", err)
	}

	rec, err := c.store.Read(ctx)
	if err != nil {
		return NormalReboot, err
	}

	if rec == nil {
		if err := c.store.Write(ctx, bootrecord.BootRecord{LastBootBankAddress: current.Address}); err != nil {
			return FirstBootEver, err
		}
		log.Info("No boot record found, first boot", "bank", current.String())
		return FirstBootEver, nil
	}

	if rec.LastBootBankAddress == current.Address {
		if rec.HasPending() {
			// A commit was recorded but the bootloader stayed on the old bank.
			log.Warn("Committed update did not take effect, clearing pending bank",
				"pending", fmt.Sprintf("0x%x", rec.PendingBankAddress), "bank", current.String())
			if err := c.store.Write(ctx, bootrecord.BootRecord{LastBootBankAddress: current.Address}); err != nil {
				return NormalReboot, err
			}
		}
		return NormalReboot, nil
	}

	if rec.HasPending() && rec.PendingBankAddress != current.Address {
		log.Warn("Booted bank differs from the committed one",
			"pending", fmt.Sprintf("0x%x", rec.PendingBankAddress), "bank", current.String())
	}

	if err := c.store.Write(ctx, bootrecord.BootRecord{LastBootBankAddress: current.Address}); err != nil {
		return PostUpdateReboot, err
	}

	log.Info("Boot after firmware update",
		"previous", fmt.Sprintf("0x%x", rec.LastBootBankAddress), "bank", current.String())
	return PostUpdateReboot, nil
}

// Report publishes the classification once and records it as a metric.
func (c *Classifier) Report(ctx context.Context, sender core.Sender, origin Origin) error {
	metrics.SetBootOrigin(origin.String())

	bank := ""
	if b, err := c.platform.BootBank(); err == nil {
		bank = b.Label
	}

	msg, err := structpb.NewStruct(map[string]any{
		c.platform.DeviceName(): origin.String(),
		"bank":                  bank,
	})
	if err != nil {
		return err
	}
	return sender.SendProto(ctx, core.EventBootReport, msg)
}
