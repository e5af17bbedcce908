// Package logger binds kart-io/logger options to flags and config files.
package logger

import (
	"fmt"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/option"
	"github.com/spf13/pflag"

	"github.com/kart-io/bookrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 日志配置，字段与 option.LogOption 一致。
type Options struct {
	*option.LogOption `mapstructure:",squash"`
}

// NewOptions creates logger options with rotation enabled for file outputs.
func NewOptions() *Options {
	lo := option.DefaultLogOption()
	if lo.Rotation == nil {
		lo.Rotation = &option.RotationOption{MaxSize: 100, MaxAge: 15, MaxBackups: 30, Compress: true}
	}
	return &Options{LogOption: lo}
}

// AddFlags adds flags for logger options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "log."
	fs.StringVar(&o.Engine, p+"engine", o.Engine, "Logging engine, zap or slog.")
	fs.StringVar(&o.Level, p+"level", o.Level, "Minimum level: DEBUG, INFO, WARN, ERROR or FATAL.")
	fs.StringVar(&o.Format, p+"format", o.Format, "Output format, json or console.")
	fs.StringSliceVar(&o.OutputPaths, p+"output-paths", o.OutputPaths, "Log outputs: stdout, stderr or file paths.")
	fs.BoolVar(&o.Development, p+"development", o.Development, "Development mode with human friendly output.")
	fs.BoolVar(&o.DisableCaller, p+"disable-caller", o.DisableCaller, "Omit the caller field.")
	fs.BoolVar(&o.DisableStacktrace, p+"disable-stacktrace", o.DisableStacktrace, "Omit stack traces on errors.")

	r := o.Rotation
	fs.IntVar(&r.MaxSize, p+"rotation.max-size", r.MaxSize, "Size in MB at which a log file is rotated.")
	fs.IntVar(&r.MaxAge, p+"rotation.max-age", r.MaxAge, "Days to keep rotated files.")
	fs.IntVar(&r.MaxBackups, p+"rotation.max-backups", r.MaxBackups, "Rotated files to keep.")
	fs.BoolVar(&r.Compress, p+"rotation.compress", r.Compress, "Gzip rotated files.")
}

// Validate validates the logger options.
func (o *Options) Validate() []error {
	if o == nil || o.LogOption == nil {
		return nil
	}
	if err := o.LogOption.Validate(); err != nil {
		return []error{fmt.Errorf("log: %w", err)}
	}
	return nil
}

// Complete restores defaults that a config file may have cleared.
func (o *Options) Complete() error {
	if o.LogOption == nil {
		o.LogOption = NewOptions().LogOption
	}
	return nil
}

// Init builds the logger and installs it globally.
func (o *Options) Init() error {
	l, err := logger.New(o.LogOption)
	if err != nil {
		return err
	}
	logger.SetGlobal(l)
	return nil
}
