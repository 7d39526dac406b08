package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/fwagent/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// addConfigFlag adds the --config flag and arranges for viper to read the
// file (or search the default locations) before the command runs.
func addConfigFlag(basename string, fs *pflag.FlagSet) {
	fs.AddFlag(pflag.Lookup(configFlagName))

	viper.AutomaticEnv()
	viper.SetEnvPrefix(strings.ReplaceAll(strings.ToUpper(envPrefix(basename)), "-", "_"))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func init() {
	pflag.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from specified `FILE`, "+
		"support JSON, TOML, YAML, HCL, or Java properties formats.")
}

// loadConfig reads the configuration file. A missing default file is not an error.
func loadConfig(basename string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".cpeer"))
		}
		viper.AddConfigPath("/etc/cpeer")
		viper.SetConfigName(basename)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read configuration file(%s): %w", cfgFile, err)
	}

	return nil
}

// watchConfig invokes fn whenever the loaded configuration file changes.
func watchConfig(fn func(fsnotify.Event)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		log.Info("Config file changed", "file", e.Name, "op", e.Op.String())
		fn(e)
	})
	viper.WatchConfig()
}

func envPrefix(basename string) string {
	if strings.HasPrefix(basename, "cpeer-") {
		return "cpeer"
	}
	return basename
}
