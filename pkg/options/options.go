// Package options defines the contract shared by every option group of the
// bookrag command line.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// IOptions is implemented by each option group (http, log, embedding, ...).
type IOptions interface {
	// AddFlags registers the group's flags, named "<prefixes>.<group>.<flag>".
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
	// Complete fills derived and defaulted values. It runs before Validate.
	Complete() error
	// Validate reports every invalid field, not just the first.
	Validate() []error
}

// Join 拼接 flag 前缀，非空结果以 "." 结尾。
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// CompleteAll completes groups in order and stops at the first error.
func CompleteAll(groups ...IOptions) error {
	for _, g := range groups {
		if err := g.Complete(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll collects the validation errors of all groups.
func ValidateAll(groups ...IOptions) []error {
	var errs []error
	for _, g := range groups {
		errs = append(errs, g.Validate()...)
	}
	return errs
}
