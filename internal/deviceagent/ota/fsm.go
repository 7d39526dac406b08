package ota

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/fwagent/internal/pkg/util/fsm"
)

const (
	// EventBegin starts the transfer into the Inactive bank.
	EventBegin = "begin"
	// EventVerify follows a complete transfer.
	EventVerify = "verify"
	// EventCommit follows a passing verification.
	EventCommit = "commit"
	// EventReboot follows a durable commit.
	EventReboot = "reboot"
	EventFail   = "fail"
)

// newPhaseMachine builds the session state machine. onEnter runs for every
// state entered, after the transition.
func newPhaseMachine(onEnter func(ctx context.Context, phase Phase, e *fsm.Event) error) *fsm.FSM {
	events := fsm.Events{
		{Name: EventBegin, Src: []string{string(PhaseIdle)}, Dst: string(PhaseDownloading)},
		{Name: EventVerify, Src: []string{string(PhaseDownloading)}, Dst: string(PhaseVerifying)},
		{Name: EventCommit, Src: []string{string(PhaseVerifying)}, Dst: string(PhaseCommittingBoot)},
		{Name: EventReboot, Src: []string{string(PhaseCommittingBoot)}, Dst: string(PhaseRebooting)},

		// Failed absorbs every non-terminal phase.
		{Name: EventFail, Src: []string{
			string(PhaseIdle),
			string(PhaseDownloading),
			string(PhaseVerifying),
			string(PhaseCommittingBoot),
		}, Dst: string(PhaseFailed)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			return onEnter(ctx, Phase(e.Dst), e)
		}),
	}

	return fsm.NewFSM(string(PhaseIdle), events, callbacks)
}
