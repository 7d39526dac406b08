package deviceagent

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootorigin"
	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/deviceagent/hal"
	"github.com/autopeer-io/fwagent/internal/deviceagent/heartbeat"
	"github.com/autopeer-io/fwagent/internal/deviceagent/hub"
	"github.com/autopeer-io/fwagent/internal/deviceagent/ota"
	"github.com/autopeer-io/fwagent/internal/deviceagent/server"
	"github.com/autopeer-io/fwagent/internal/deviceagent/timesync"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/fwagent/internal/pkg/nvs"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
	"github.com/autopeer-io/fwagent/pkg/options"
)

type Config struct {
	MqttOptions      *options.MqttOptions
	HttpOptions      *options.HttpOptions
	S3Options        *options.S3Options
	OTAOptions       *options.OTAOptions
	NVSOptions       *options.NVSOptions
	HALOptions       *options.HALOptions
	NTPOptions       *options.NTPOptions
	HeartbeatOptions *options.HeartbeatOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	platform, err := hal.New(cfg.HALOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to init platform: %w", err)
	}
	device := platform.DeviceName()
	if device == "" {
		return nil, fmt.Errorf("FATAL: unable to retrieve device name from HAL")
	}

	kv, err := nvs.Open(cfg.NVSOptions.Path)
	if err != nil {
		return nil, err
	}

	agent, err := cfg.newAgent(platform, kv)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	return agent, nil
}

func (cfg *Config) newAgent(platform core.Platform, kv *nvs.Store) (*Agent, error) {
	device := platform.DeviceName()

	mqttClient, topicBuilder, err := cfg.initMqttClientAndTopicBuilder(device)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	h := hub.New(device, mqttClient, topicBuilder)
	stopHub := sync.OnceFunc(h.Stop)

	httpClient, err := ota.NewHTTPClient(cfg.OTAOptions)
	if err != nil {
		return nil, err
	}
	s3Client, err := ota.NewS3Client(cfg.S3Options)
	if err != nil {
		return nil, err
	}

	records := bootrecord.NewStore(kv)
	restarter := newRestarter(platform, stopHub)

	manager := ota.NewManager(
		ota.NewConfig(cfg.OTAOptions),
		ota.NewEngine(platform, cfg.OTAOptions.ChunkSize, httpClient, s3Client),
		ota.NewVerifier(platform, cfg.OTAOptions.VerifyBlockSize),
		records,
		restarter,
	)

	var srv *server.Server
	if cfg.HttpOptions.Enabled() {
		srv = server.NewServer(cfg.HttpOptions, h.IsConnected, metrics.Registry)
	}

	return &Agent{
		platform:   platform,
		hub:        h,
		classifier: bootorigin.NewClassifier(platform, records),
		timesync:   timesync.New(cfg.NTPOptions),
		server:     srv,
		restarter:  restarter,
		modules: []core.Module{
			manager,
			heartbeat.New(cfg.HeartbeatOptions.Interval),
		},
		closers: []func() error{kv.Close},
		stopHub: stopHub,
	}, nil
}

func (cfg *Config) initMqttClientAndTopicBuilder(device string) (mqtt.Client, *mqtttopic.Builder, error) {
	topicBuilder := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("cpeer-device-%s-%s", device, uuid.NewString()[:8])
	}

	// No timestamp in the will: the broker's reception time is authoritative.
	status, err := onlineStatus(device, false, "UnexpectedDisconnect")
	if err != nil {
		return nil, nil, err
	}
	offlinePayload, err := protojson.Marshal(status)
	if err != nil {
		return nil, nil, err
	}

	mqttConfig.WillTopic = topicBuilder.Build(paths.Online, device)
	mqttConfig.WillPayload = offlinePayload
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}

	return mqttClient, topicBuilder, nil
}
