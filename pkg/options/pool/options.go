// Package pool provides options for the background warm-up worker pool.
package pool

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/bookrag/pkg/infra/pool"
	"github.com/kart-io/bookrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 预热任务池配置。
type Options struct {
	Capacity         int           `json:"capacity" mapstructure:"capacity"`
	ExpiryDuration   time.Duration `json:"expiry-duration" mapstructure:"expiry-duration"`
	Nonblocking      bool          `json:"nonblocking" mapstructure:"nonblocking"`
	MaxBlockingTasks int           `json:"max-blocking-tasks" mapstructure:"max-blocking-tasks"`
}

// NewOptions 创建默认配置。
func NewOptions() *Options {
	d := pool.DefaultConfig()
	return &Options{
		Capacity:         d.Capacity,
		ExpiryDuration:   d.ExpiryDuration,
		Nonblocking:      d.Nonblocking,
		MaxBlockingTasks: d.MaxBlockingTasks,
	}
}

// Config converts the options into a pool configuration.
func (o *Options) Config() *pool.Config {
	return &pool.Config{
		Capacity:         o.Capacity,
		ExpiryDuration:   o.ExpiryDuration,
		Nonblocking:      o.Nonblocking,
		MaxBlockingTasks: o.MaxBlockingTasks,
	}
}

// AddFlags adds flags for pool options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "pool."
	fs.IntVar(&o.Capacity, p+"capacity", o.Capacity, "Maximum concurrent background index warm-ups.")
	fs.DurationVar(&o.ExpiryDuration, p+"expiry-duration", o.ExpiryDuration, "Idle worker expiry.")
	fs.BoolVar(&o.Nonblocking, p+"nonblocking", o.Nonblocking, "Reject warm-ups instead of queueing when the pool is full.")
	fs.IntVar(&o.MaxBlockingTasks, p+"max-blocking-tasks", o.MaxBlockingTasks, "Maximum queued warm-ups in blocking mode, 0 for unlimited.")
}

// Validate validates the pool options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("pool.capacity must be positive"))
	}
	if o.MaxBlockingTasks < 0 {
		errs = append(errs, fmt.Errorf("pool.max-blocking-tasks must not be negative"))
	}
	return errs
}

// Complete completes the pool options with defaults.
func (o *Options) Complete() error {
	if o.ExpiryDuration <= 0 {
		o.ExpiryDuration = pool.DefaultConfig().ExpiryDuration
	}
	return nil
}
