package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OTAOptions)(nil)

// OTAOptions tunes the firmware update pipeline.
type OTAOptions struct {
	// MaxRetries bounds the failed transfer steps per session. Progress between
	// failures does not reset the count.
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// RetryDelay is the fixed pause after a failed transfer step.
	RetryDelay time.Duration `json:"retry-delay" mapstructure:"retry-delay"`

	// ChunkSize is the number of bytes read from the source per transfer step.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// VerifyBlockSize is the read size used while hashing a bank.
	VerifyBlockSize int `json:"verify-block-size" mapstructure:"verify-block-size"`

	// ProgressInterval publishes a progress report every N transfer steps.
	ProgressInterval int `json:"progress-interval" mapstructure:"progress-interval"`

	// DownloadTimeout bounds establishing a connection and receiving headers.
	DownloadTimeout time.Duration `json:"download-timeout" mapstructure:"download-timeout"`

	// CAFile pins the image server's certificate authority.
	CAFile string `json:"ca-file" mapstructure:"ca-file"`

	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
}

// NewOTAOptions returns the defaults: 5 retries one second apart, 4 KiB chunks
// and blocks, a progress report every 100 steps.
func NewOTAOptions() *OTAOptions {
	return &OTAOptions{
		MaxRetries:       5,
		RetryDelay:       time.Second,
		ChunkSize:        4096,
		VerifyBlockSize:  4096,
		ProgressInterval: 100,
		DownloadTimeout:  30 * time.Second,
	}
}

func (o *OTAOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("--ota.max-retries must not be negative"))
	}
	if o.RetryDelay < 0 {
		errors = append(errors, fmt.Errorf("--ota.retry-delay must not be negative"))
	}
	if o.ChunkSize <= 0 {
		errors = append(errors, fmt.Errorf("--ota.chunk-size must be positive"))
	}
	if o.VerifyBlockSize <= 0 {
		errors = append(errors, fmt.Errorf("--ota.verify-block-size must be positive"))
	}
	if o.ProgressInterval <= 0 {
		errors = append(errors, fmt.Errorf("--ota.progress-interval must be positive"))
	}

	return errors
}

func (o *OTAOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.MaxRetries, "ota.max-retries", o.MaxRetries, "Failed transfer steps tolerated per update session before it is abandoned.")
	fs.DurationVar(&o.RetryDelay, "ota.retry-delay", o.RetryDelay, "Fixed delay after a failed transfer step.")
	fs.IntVar(&o.ChunkSize, "ota.chunk-size", o.ChunkSize, "Bytes transferred per step.")
	fs.IntVar(&o.VerifyBlockSize, "ota.verify-block-size", o.VerifyBlockSize, "Block size used when hashing the written bank.")
	fs.IntVar(&o.ProgressInterval, "ota.progress-interval", o.ProgressInterval, "Publish a progress report every N transfer steps.")
	fs.DurationVar(&o.DownloadTimeout, "ota.download-timeout", o.DownloadTimeout, "Timeout for connecting to the image server and reading response headers.")
	fs.StringVar(&o.CAFile, "ota.ca-file", o.CAFile, "PEM file with the image server's certificate authority.")
	fs.BoolVar(&o.InsecureSkipVerify, "ota.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS verification of the image server. Testing only.")
}
