package app

import "github.com/kart-io/bookrag/pkg/infra/app/cliflag"

// CliOptions is implemented by the top-level options struct of a command.
// Flags are grouped by section; viper unmarshals the config file into the
// same struct before Complete and Validate run.
type CliOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets
	// Complete fills in derived and defaulted values.
	Complete() error
	// Validate validates the options.
	Validate() error
}
