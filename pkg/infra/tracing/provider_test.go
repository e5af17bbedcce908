package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptions(t *testing.T) {
	opts := NewOptions()

	assert.False(t, opts.Enabled)
	assert.Equal(t, "bookrag", opts.ServiceName)
	assert.Equal(t, ExporterOTLPHTTP, opts.ExporterType)
	assert.Equal(t, SamplerParentBased, opts.SamplerType)
	assert.Empty(t, opts.Validate())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
		errs   int
	}{
		{name: "enabled defaults", mutate: func(o *Options) {}},
		{name: "disabled skips checks", mutate: func(o *Options) { o.Enabled = false; o.ServiceName = "" }},
		{name: "missing service name", mutate: func(o *Options) { o.ServiceName = "" }, errs: 1},
		{name: "missing endpoint", mutate: func(o *Options) { o.Endpoint = "" }, errs: 1},
		{name: "stdout needs no endpoint", mutate: func(o *Options) { o.ExporterType = ExporterStdout; o.Endpoint = "" }},
		{name: "unknown exporter", mutate: func(o *Options) { o.ExporterType = "zipkin" }, errs: 1},
		{name: "unknown sampler", mutate: func(o *Options) { o.SamplerType = "sometimes" }, errs: 1},
		{name: "ratio out of range", mutate: func(o *Options) { o.SamplerRatio = 1.5 }, errs: 1},
		{
			name: "errors are collected",
			mutate: func(o *Options) {
				o.BatchTimeout = 0
				o.ExportTimeout = 0
				o.MaxQueueSize = 0
			},
			errs: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			o.Enabled = true
			tt.mutate(o)
			assert.Len(t, o.Validate(), tt.errs)
		})
	}
}

func TestOptions_AddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--tracing.enabled",
		"--tracing.exporter-type=stdout",
		"--tracing.headers=x-team=reader",
	}))
	assert.True(t, o.Enabled)
	assert.Equal(t, ExporterStdout, o.ExporterType)
	assert.Equal(t, map[string]string{"x-team": "reader"}, o.Headers)
}

func TestOptions_Complete(t *testing.T) {
	o := &Options{}
	require.NoError(t, o.Complete())
	assert.NotNil(t, o.Headers)
	assert.NotNil(t, o.ResourceAttributes)
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(NewOptions())
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("test"))
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_NoopExporter(t *testing.T) {
	opts := NewOptions()
	opts.Enabled = true
	opts.ExporterType = ExporterNoop
	opts.SamplerType = SamplerAlwaysOn
	opts.ResourceAttributes = map[string]string{"region": "test"}

	p, err := NewProvider(opts)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()
	require.True(t, p.Enabled())

	ctx, span := StartSpan(context.Background(), "test", "IndexManager.Search")
	AddSpanAttributes(ctx, String("book.id", "b1"), Int("search.top_k", 5), Bool("cache.hit", false))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.ForceFlush(ctx))
}

func TestNewProvider_InvalidOptions(t *testing.T) {
	opts := NewOptions()
	opts.Enabled = true
	opts.ExporterType = "zipkin"

	_, err := NewProvider(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipkin")
}

func TestTraceIDFromContext_NoSpan(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
