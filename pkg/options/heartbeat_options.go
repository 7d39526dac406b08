package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HeartbeatOptions)(nil)

type HeartbeatOptions struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

func NewHeartbeatOptions() *HeartbeatOptions {
	return &HeartbeatOptions{Interval: time.Minute}
}

func (o *HeartbeatOptions) Validate() []error {
	errors := []error{}
	if o.Interval < time.Second {
		errors = append(errors, fmt.Errorf("--heartbeat.interval must be at least 1s"))
	}
	return errors
}

func (o *HeartbeatOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "heartbeat.interval", o.Interval, "Interval between liveness reports.")
}
