package ota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// reportTimeout bounds reports sent after the session context is gone.
const reportTimeout = 5 * time.Second

// Config is the retry and reporting policy of a session.
type Config struct {
	// MaxRetries is the number of failed transfer steps tolerated; one more
	// fails the session.
	MaxRetries int
	// RetryDelay is the fixed pause after a failed step.
	RetryDelay time.Duration
	// ProgressInterval publishes a progress report every N steps.
	ProgressInterval int
}

func NewConfig(opts *options.OTAOptions) Config {
	return Config{
		MaxRetries:       opts.MaxRetries,
		RetryDelay:       opts.RetryDelay,
		ProgressInterval: opts.ProgressInterval,
	}
}

// Collaborators are what a session drives.
type Collaborators struct {
	Platform  core.Platform
	Engine    *Engine
	Verifier  *Verifier
	Records   bootrecord.Store
	Sender    core.Sender
	Restarter core.Restarter
	Clock     clock.Clock
}

// Orchestrator drives exactly one update attempt. A new command gets a new
// Orchestrator.
type Orchestrator struct {
	cfg Config
	Collaborators

	logger log.Logger

	mu      sync.Mutex
	started bool
	session Session
	machine *fsm.FSM
}

func NewOrchestrator(id string, cfg Config, c Collaborators) *Orchestrator {
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 1
	}

	o := &Orchestrator{
		cfg:           cfg,
		Collaborators: c,
		logger:        log.WithName("ota").WithValues("session", id),
		session: Session{
			ID:      id,
			Phase:   PhaseIdle,
			History: []Phase{PhaseIdle},
		},
	}
	o.machine = newPhaseMachine(o.enterPhase)
	return o
}

// Session returns a snapshot of the attempt.
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.clone()
}

// BeginUpdate runs the attempt to its end. Every failure except an invalid
// request or a cancellation ends in a graceful restart with the boot target
// untouched; success ends in a restart into the new bank. The returned
// error, if any, is an *UpdateError.
func (o *Orchestrator) BeginUpdate(ctx context.Context, req Request) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("update session already started")
	}
	o.started = true
	o.session.StartedAt = o.Clock.Now()
	o.mu.Unlock()

	o.logger.Info("Update requested", "source", req.SourceURL, "checksum", req.ExpectedChecksum)

	if err := req.Validate(); err != nil {
		var ue *UpdateError
		if !errors.As(err, &ue) {
			ue = newError(InvalidRequest, PhaseIdle, err)
		}
		return o.fail(ctx, ue)
	}

	running, err := o.Platform.RunningBank()
	if err != nil {
		return o.fail(ctx, newError(TransferExhausted, PhaseIdle, fmt.Errorf("query running bank: %w", err)))
	}
	bank, err := o.Platform.NextUpdateBank()
	if err != nil {
		return o.fail(ctx, newError(TransferExhausted, PhaseIdle, fmt.Errorf("find update bank: %w", err)))
	}
	if bank.Address == running.Address {
		return o.fail(ctx, newError(TransferExhausted, PhaseIdle, fmt.Errorf("update bank %s is the running bank", bank)))
	}

	o.mu.Lock()
	o.session.Bank = bank
	o.mu.Unlock()

	o.event(ctx, EventBegin)
	o.logger.Info("Copying image", "bank", bank.String())

	if ue := o.download(ctx, req, bank); ue != nil {
		return o.fail(ctx, ue)
	}

	o.event(ctx, EventVerify)
	ok, err := o.Verifier.Verify(ctx, bank, req.ExpectedChecksum)
	switch {
	case ctx.Err() != nil:
		return o.fail(ctx, newError(Cancelled, PhaseVerifying, ctx.Err()))
	case err != nil:
		return o.fail(ctx, newError(IntegrityMismatch, PhaseVerifying, err))
	case !ok:
		return o.fail(ctx, newError(IntegrityMismatch, PhaseVerifying, errors.New("checksum verification failed")))
	}

	// Last point where a cancellation is honoured.
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, newError(Cancelled, PhaseVerifying, err))
	}

	return o.commit(context.WithoutCancel(ctx), running, bank)
}

func (o *Orchestrator) download(ctx context.Context, req Request, bank core.StorageBank) *UpdateError {
	var (
		transfer   *Transfer
		retries    int
		iterations int
	)
	defer func() {
		if transfer != nil {
			transfer.Close()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return newError(Cancelled, PhaseDownloading, err)
		}

		status, err := StatusInProgress, error(nil)
		if transfer == nil {
			transfer, err = o.Engine.Begin(ctx, req.SourceURL, bank)
		}
		if err == nil {
			status, err = transfer.Perform(ctx)
			o.mu.Lock()
			o.session.BytesTransferred = transfer.BytesTransferred()
			o.mu.Unlock()
		}

		if err != nil {
			if ctx.Err() != nil {
				return newError(Cancelled, PhaseDownloading, ctx.Err())
			}
			if permanent(err) {
				return newError(TransferExhausted, PhaseDownloading, err)
			}

			retries++
			metrics.TransferRetries.Inc()
			o.mu.Lock()
			o.session.RetriesUsed = uint32(retries)
			o.mu.Unlock()

			o.logger.Error(newError(TransientTransferError, PhaseDownloading, err), "Transfer step failed",
				"retry", retries, "maxRetries", o.cfg.MaxRetries)
			if retries > o.cfg.MaxRetries {
				return newError(TransferExhausted, PhaseDownloading,
					fmt.Errorf("max retries reached, last error: %w", err))
			}

			if o.cfg.RetryDelay > 0 {
				select {
				case <-ctx.Done():
					return newError(Cancelled, PhaseDownloading, ctx.Err())
				case <-o.Clock.After(o.cfg.RetryDelay):
				}
			}
			continue
		}

		if status == StatusOK {
			break
		}

		if iterations%o.cfg.ProgressInterval == 0 {
			o.reportProgress(ctx, bank, transfer.BytesTransferred())
		}
		iterations++
	}

	if !transfer.CompleteDataReceived() {
		return newError(TransferExhausted, PhaseDownloading, errors.New("complete data was not received"))
	}
	return nil
}

// commit runs to completion once entered: record, boot target, report, restart.
func (o *Orchestrator) commit(ctx context.Context, running, bank core.StorageBank) error {
	o.event(ctx, EventCommit)

	rec := bootrecord.BootRecord{LastBootBankAddress: running.Address, PendingBankAddress: bank.Address}
	if err := o.Records.Write(ctx, rec); err != nil {
		return o.fail(ctx, newError(PersistenceFailure, PhaseCommittingBoot, err))
	}

	if err := o.Platform.SetBootBank(bank); err != nil {
		// Boot target unchanged; drop the pending marker so the next boot
		// is not mistaken for a post-update one.
		if rerr := o.Records.Write(ctx, bootrecord.BootRecord{LastBootBankAddress: running.Address}); rerr != nil {
			o.logger.Error(rerr, "Failed to clear pending boot bank")
		}
		return o.fail(ctx, newError(CommitFailure, PhaseCommittingBoot, fmt.Errorf("set boot bank %s: %w", bank, err)))
	}

	duration := o.Clock.Since(o.Session().StartedAt)
	o.logger.Info("Image copy successful, will reboot", "duration", formatDuration(duration), "bank", bank.Label)
	o.report(ctx, completedMessage(duration))

	o.event(ctx, EventReboot)
	metrics.UpdateDuration.Observe(duration.Seconds())

	if err := o.Restarter.Restart(ctx, "firmware update committed to "+bank.Label); err != nil {
		o.logger.Error(err, "Graceful restart failed")
		return err
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, ue *UpdateError) error {
	o.mu.Lock()
	if ue.Phase == "" {
		ue.Phase = o.session.Phase
	}
	o.session.Err = ue
	o.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	o.event(ctx, EventFail)
	metrics.UpdateFailures.WithLabelValues(ue.Kind.String()).Inc()
	o.logger.Error(ue, "Update session failed", "kind", ue.Kind.String())

	// Rejected requests and cancelled sessions leave no trace beyond the log.
	if !ue.Kind.Restarts() {
		return ue
	}

	o.report(ctx, failedMessage(ue))
	if err := o.Restarter.Restart(ctx, ue.Error()); err != nil {
		o.logger.Error(err, "Graceful restart failed")
	}
	return ue
}

func (o *Orchestrator) reportProgress(ctx context.Context, bank core.StorageBank, written uint64) {
	msg := progressMessage(o.Clock.Since(o.Session().StartedAt))
	o.logger.Info("Copying image", "bank", bank.Label, "progress", msg, "written", humanize.IBytes(written))
	o.report(ctx, msg)
}

// report publishes {device: message}; failures are logged only.
func (o *Orchestrator) report(ctx context.Context, message string) {
	payload, err := devicePayload(o.Platform.DeviceName(), message)
	if err != nil {
		o.logger.Error(err, "Failed to build report")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	if err := o.Sender.SendProto(ctx, core.EventOTAProgress, payload); err != nil {
		o.logger.Error(err, "Failed to publish report", "message", message)
	}
}

func (o *Orchestrator) event(ctx context.Context, name string) {
	if err := o.machine.Event(context.WithoutCancel(ctx), name); err != nil {
		o.logger.Error(err, "Illegal phase transition", "event", name, "phase", o.machine.Current())
	}
}

func (o *Orchestrator) enterPhase(_ context.Context, phase Phase, _ *fsm.Event) error {
	o.mu.Lock()
	o.session.Phase = phase
	o.session.History = append(o.session.History, phase)
	o.mu.Unlock()

	metrics.SetPhase(string(phase))
	o.logger.Info("Update phase changed", "phase", string(phase))
	return nil
}
