package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*NVSOptions)(nil)

// NVSOptions locates the persisted key/value store that survives reboots.
type NVSOptions struct {
	Path string `json:"path" mapstructure:"path"`
}

func NewNVSOptions() *NVSOptions {
	return &NVSOptions{
		Path: "/var/lib/cpeer/nvs.db",
	}
}

func (o *NVSOptions) Validate() []error {
	errors := []error{}
	if o.Path == "" {
		errors = append(errors, fmt.Errorf("--nvs.path must not be empty"))
	}
	return errors
}

func (o *NVSOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "nvs.path", o.Path, "SQLite file holding persisted device state.")
}
