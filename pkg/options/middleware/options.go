package middleware

import (
	"github.com/kart-io/bookrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options 汇总 HTTP 服务挂载的全部中间件配置，按执行顺序排列。
type Options struct {
	Recovery  *RecoveryOptions  `json:"recovery" mapstructure:"recovery"`
	RequestID *RequestIDOptions `json:"request-id" mapstructure:"request-id"`
	Logger    *LoggerOptions    `json:"logger" mapstructure:"logger"`
	CORS      *CORSOptions      `json:"cors" mapstructure:"cors"`
	Tracing   *TracingOptions   `json:"tracing" mapstructure:"tracing"`
}

// NewOptions creates default middleware options.
func NewOptions() *Options {
	return &Options{
		Recovery:  NewRecoveryOptions(),
		RequestID: NewRequestIDOptions(),
		Logger:    NewLoggerOptions(),
		CORS:      NewCORSOptions(),
		Tracing:   NewTracingOptions(),
	}
}

func (o *Options) groups() []options.IOptions {
	return []options.IOptions{o.Recovery, o.RequestID, o.Logger, o.CORS, o.Tracing}
}

// AddFlags adds flags for every middleware to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	for _, g := range o.groups() {
		g.AddFlags(fs, prefixes...)
	}
}

// Validate validates every middleware configuration.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	return options.ValidateAll(o.groups()...)
}

// Complete completes every middleware configuration.
func (o *Options) Complete() error {
	return options.CompleteAll(o.groups()...)
}
