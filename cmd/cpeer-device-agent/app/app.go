package app

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/fwagent/cmd/cpeer-device-agent/app/options"
	"github.com/autopeer-io/fwagent/pkg/app"
	"github.com/autopeer-io/fwagent/pkg/log"
)

const (
	commandName = "cpeer-device-agent"
	commandDesc = `The Autopeer Device Agent runs on the device. It downloads firmware
images into the inactive storage bank, verifies them and switches the boot
target, reporting progress and boot origin over MQTT.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch an Autopeer device agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithConfigWatcher(onConfigChange),
		app.WithSubCommands(newBanksCommand()),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}

// onConfigChange re-applies the only setting that is safe to change live.
func onConfigChange(e fsnotify.Event) {
	level := viper.GetString("log.level")
	if level == "" {
		return
	}
	if err := log.SetLevel(level); err != nil {
		log.Error(err, "Ignoring log level from changed config", "file", e.Name)
		return
	}
	log.Info("Log level updated", "level", level, "file", e.Name)
}
