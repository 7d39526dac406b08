package ota

import (
	"time"

	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
)

// Phase is a state of an update session.
type Phase string

const (
	PhaseIdle           Phase = "Idle"
	PhaseDownloading    Phase = "Downloading"
	PhaseVerifying      Phase = "Verifying"
	PhaseCommittingBoot Phase = "CommittingBoot"
	PhaseRebooting      Phase = "Rebooting"
	PhaseFailed         Phase = "Failed"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseRebooting || p == PhaseFailed
}

// Session is a snapshot of one update attempt.
type Session struct {
	ID               string
	Phase            Phase
	History          []Phase
	RetriesUsed      uint32
	BytesTransferred uint64
	StartedAt        time.Time
	// Bank is the Inactive bank captured when the session left Idle.
	Bank core.StorageBank
	Err  error
}

func (s Session) clone() Session {
	s.History = append([]Phase(nil), s.History...)
	return s
}
