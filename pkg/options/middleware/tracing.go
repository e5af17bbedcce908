package middleware

import (
	"github.com/kart-io/bookrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*TracingOptions)(nil)

// TracingOptions defines HTTP server span middleware options.
// 全局 TracerProvider 由 tracing.Options 控制，未启用时中间件只传播上下文。
type TracingOptions struct {
	SkipPaths []string `json:"skip-paths" mapstructure:"skip-paths"`
}

// NewTracingOptions creates default tracing middleware options.
func NewTracingOptions() *TracingOptions {
	return &TracingOptions{
		SkipPaths: []string{"/health"},
	}
}

// AddFlags adds flags for tracing middleware options to the specified FlagSet.
func (o *TracingOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.SkipPaths, options.Join(prefixes...)+"middleware.tracing.skip-paths", o.SkipPaths, "Paths that do not open a server span.")
}

// Validate validates the tracing middleware options.
func (o *TracingOptions) Validate() []error {
	return nil
}

// Complete completes the tracing middleware options with defaults.
func (o *TracingOptions) Complete() error {
	return nil
}
