package options

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

var httpNetworks = []string{"tcp", "tcp4", "tcp6"}

// HttpOptions configures the health and metrics HTTP server.
type HttpOptions struct {
	// Network is one of tcp, tcp4 or tcp6.
	Network string `json:"network" mapstructure:"network"`

	// Addr is host:port. Empty disables the server.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading a request and writing its response.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network: "tcp",
		Addr:    "0.0.0.0:9464",
		Timeout: 30 * time.Second,
	}
}

// Enabled reports whether the server should be started.
func (o *HttpOptions) Enabled() bool {
	return o != nil && o.Addr != ""
}

func (o *HttpOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errors := []error{}
	if !slices.Contains(httpNetworks, o.Network) {
		errors = append(errors, fmt.Errorf("--http.network must be one of %v", httpNetworks))
	}
	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--http.timeout must be positive"))
	}
	return errors
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Network of the health and metrics listener.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Bind address of the health and metrics server. Empty disables it.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Read and write timeout of the health and metrics server.")
}
