package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fwagent/internal/deviceagent"
	"github.com/autopeer-io/fwagent/pkg/app"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

type AgentOptions struct {
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	OTAOptions       *options.OTAOptions       `json:"ota" mapstructure:"ota"`
	NVSOptions       *options.NVSOptions       `json:"nvs" mapstructure:"nvs"`
	HALOptions       *options.HALOptions       `json:"hal" mapstructure:"hal"`
	NTPOptions       *options.NTPOptions       `json:"ntp" mapstructure:"ntp"`
	HeartbeatOptions *options.HeartbeatOptions `json:"heartbeat" mapstructure:"heartbeat"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		MqttOptions:      options.NewMqttOptions(),
		HttpOptions:      options.NewHttpOptions(),
		S3Options:        options.NewS3Options(),
		OTAOptions:       options.NewOTAOptions(),
		NVSOptions:       options.NewNVSOptions(),
		HALOptions:       options.NewHALOptions(),
		NTPOptions:       options.NewNTPOptions(),
		HeartbeatOptions: options.NewHeartbeatOptions(),
		Log:              log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) LoggerOptions() *log.Options {
	return o.Log
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.OTAOptions.AddFlags(fss.FlagSet("ota"))
	o.NVSOptions.AddFlags(fss.FlagSet("nvs"))
	o.HALOptions.AddFlags(fss.FlagSet("hal"))
	o.NTPOptions.AddFlags(fss.FlagSet("ntp"))
	o.HeartbeatOptions.AddFlags(fss.FlagSet("heartbeat"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	if o.HALOptions.DeviceName == "" {
		o.HALOptions.DeviceName = deviceagent.DiscoverDeviceName()
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.OTAOptions.Validate()...)
	errs = append(errs, o.NVSOptions.Validate()...)
	errs = append(errs, o.HALOptions.Validate()...)
	errs = append(errs, o.NTPOptions.Validate()...)
	errs = append(errs, o.HeartbeatOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*deviceagent.Config, error) {
	return &deviceagent.Config{
		MqttOptions:      o.MqttOptions,
		HttpOptions:      o.HttpOptions,
		S3Options:        o.S3Options,
		OTAOptions:       o.OTAOptions,
		NVSOptions:       o.NVSOptions,
		HALOptions:       o.HALOptions,
		NTPOptions:       o.NTPOptions,
		HeartbeatOptions: o.HeartbeatOptions,
	}, nil
}
