package core

import (
	"context"
)

type HandlerFunc func(ctx context.Context, payload []byte) error

type Module interface {
	Name() string

	Setup(ctx context.Context, platform Platform, sender Sender) error

	Routes() map[EventType]HandlerFunc
}

// Runnable is implemented by modules that own a long-running loop.
// Run blocks until ctx is done.
type Runnable interface {
	Run(ctx context.Context) error
}

// ConnectionObserver is implemented by modules that react to broker
// connectivity. Implementations must not block.
type ConnectionObserver interface {
	OnConnectionChange(connected bool)
}

// Restarter performs a graceful restart: the network client is stopped and
// flushed, then the device reboots.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}
