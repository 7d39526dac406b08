package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*NTPOptions)(nil)

// NTPOptions controls the clock check performed before connecting.
type NTPOptions struct {
	Enable    bool          `json:"enable" mapstructure:"enable"`
	Server    string        `json:"server" mapstructure:"server"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	Apply     bool          `json:"apply" mapstructure:"apply"`
	MaxOffset time.Duration `json:"max-offset" mapstructure:"max-offset"`
}

func NewNTPOptions() *NTPOptions {
	return &NTPOptions{
		Enable:    true,
		Server:    "pool.ntp.org",
		Timeout:   5 * time.Second,
		MaxOffset: 2 * time.Second,
	}
}

func (o *NTPOptions) Validate() []error {
	errors := []error{}
	if o.Enable && o.Server == "" {
		errors = append(errors, fmt.Errorf("--ntp.server is required when --ntp.enable is set"))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--ntp.timeout must be positive"))
	}
	return errors
}

func (o *NTPOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enable, "ntp.enable", o.Enable, "Query an NTP server before connecting.")
	fs.StringVar(&o.Server, "ntp.server", o.Server, "NTP server address.")
	fs.DurationVar(&o.Timeout, "ntp.timeout", o.Timeout, "NTP query timeout.")
	fs.BoolVar(&o.Apply, "ntp.apply", o.Apply, "Step the system clock when the offset exceeds --ntp.max-offset (requires privileges).")
	fs.DurationVar(&o.MaxOffset, "ntp.max-offset", o.MaxOffset, "Clock offset tolerated before warning or stepping.")
}
