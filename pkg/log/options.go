// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger.
type Options struct {
	// Name is prepended to the logger name of every entry.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is debug, info, warn or error. It can be changed at runtime with SetLevel.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is json or console. Devices ship json to the log collector.
	Format string `json:"format,omitempty" mapstructure:"format"`

	// EnableColor colors levels in the console format.
	EnableColor bool `json:"enable-color,omitempty" mapstructure:"enable-color"`

	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip is 2 for calls through the package-level functions.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// OutputPaths are files or "stdout"/"stderr".
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "json",
		CallerSkip:  2,
		OutputPaths: []string{"stdout"},
	}
}

// Validate checks level, format and output paths.
func (o *Options) Validate() []error {
	var errs []error

	var l zapcore.Level
	if err := l.UnmarshalText([]byte(o.Level)); err != nil {
		errs = append(errs, fmt.Errorf("--log.level: %w", err))
	}

	if o.Format != "console" && o.Format != "json" {
		errs = append(errs, fmt.Errorf("--log.format must be 'console' or 'json', got %q", o.Format))
	}

	if slices.Contains(o.OutputPaths, "") {
		errs = append(errs, fmt.Errorf("--log.output-paths must not contain empty paths"))
	}

	return errs
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Name prepended to every log entry.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum level: debug, info, warn or error. Re-read when the config file changes.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Output format: json or console.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Color levels in the console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit file and line from entries.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "Caller frames to skip when annotating entries.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log destinations, e.g. stdout or /var/log/cpeer/agent.log.")
}
