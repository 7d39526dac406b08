package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// CliOptions abstracts configuration options for reading parameters from the
// command line.
type CliOptions interface {
	// Flags returns the flag sets grouped by section for help output.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other options.
	Complete() error

	// Validate checks the completed options.
	Validate() error
}

// NamedFlagSetOptions is implemented by the option structs of every binary.
type NamedFlagSetOptions interface {
	CliOptions
}
