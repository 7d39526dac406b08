// Package timesync checks the system clock against NTP before the agent
// connects; certificate validation fails on a clock that is far off.
package timesync

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"

	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// QueryFunc matches ntp.QueryWithOptions.
type QueryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

type Syncer struct {
	opts *options.NTPOptions

	query   QueryFunc
	setTime func(time.Time) error
	now     func() time.Time
}

func New(opts *options.NTPOptions) *Syncer {
	return &Syncer{
		opts:    opts,
		query:   ntp.QueryWithOptions,
		setTime: setSystemTime,
		now:     time.Now,
	}
}

// Sync returns the measured clock offset. The clock is stepped only when
// apply is enabled and the offset exceeds the tolerated maximum.
func (s *Syncer) Sync(ctx context.Context) (time.Duration, error) {
	if !s.opts.Enable {
		return 0, nil
	}

	type result struct {
		resp *ntp.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := s.query(s.opts.Server, ntp.QueryOptions{Timeout: s.opts.Timeout})
		ch <- result{resp, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r = <-ch:
	}
	if r.err != nil {
		return 0, fmt.Errorf("query ntp server %s: %w", s.opts.Server, r.err)
	}
	if err := r.resp.Validate(); err != nil {
		return 0, fmt.Errorf("invalid ntp response from %s: %w", s.opts.Server, err)
	}

	offset := r.resp.ClockOffset
	if offset.Abs() <= s.opts.MaxOffset {
		log.Info("System clock in sync", "server", s.opts.Server, "offset", offset)
		return offset, nil
	}

	if !s.opts.Apply {
		log.Warn("System clock is off, not adjusting", "server", s.opts.Server, "offset", offset)
		return offset, nil
	}

	if err := s.setTime(s.now().Add(offset)); err != nil {
		return offset, fmt.Errorf("step system clock by %s: %w", offset, err)
	}
	log.Info("System clock stepped", "server", s.opts.Server, "offset", offset)
	return offset, nil
}
