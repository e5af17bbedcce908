package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kart-io/bookrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*CORSOptions)(nil)

// DefaultAllowOrigins 阅读器前端（Vite 开发服务器、Tauri 桌面壳）使用的来源。
var DefaultAllowOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
	"http://localhost:1420",
	"http://127.0.0.1:1420",
	"http://localhost:3000",
	"tauri://localhost",
	"https://tauri.localhost",
}

// CORSOptions defines CORS middleware options.
type CORSOptions struct {
	AllowOrigins     []string `json:"allow-origins" mapstructure:"allow-origins"`
	AllowMethods     []string `json:"allow-methods" mapstructure:"allow-methods"`
	AllowHeaders     []string `json:"allow-headers" mapstructure:"allow-headers"`
	ExposeHeaders    []string `json:"expose-headers" mapstructure:"expose-headers"`
	AllowCredentials bool     `json:"allow-credentials" mapstructure:"allow-credentials"`
	MaxAge           int      `json:"max-age" mapstructure:"max-age"`
}

// NewCORSOptions creates default CORS options.
func NewCORSOptions() *CORSOptions {
	return &CORSOptions{
		AllowOrigins:     append([]string(nil), DefaultAllowOrigins...),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}

// AddFlags adds flags for CORS options to the specified FlagSet.
func (o *CORSOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.AllowOrigins, options.Join(prefixes...)+"middleware.cors.allow-origins", o.AllowOrigins, "CORS allowed origins.")
	fs.StringSliceVar(&o.AllowMethods, options.Join(prefixes...)+"middleware.cors.allow-methods", o.AllowMethods, "CORS allowed methods.")
	fs.StringSliceVar(&o.AllowHeaders, options.Join(prefixes...)+"middleware.cors.allow-headers", o.AllowHeaders, "CORS allowed headers.")
	fs.StringSliceVar(&o.ExposeHeaders, options.Join(prefixes...)+"middleware.cors.expose-headers", o.ExposeHeaders, "CORS exposed headers.")
	fs.BoolVar(&o.AllowCredentials, options.Join(prefixes...)+"middleware.cors.allow-credentials", o.AllowCredentials, "CORS allow credentials.")
	fs.IntVar(&o.MaxAge, options.Join(prefixes...)+"middleware.cors.max-age", o.MaxAge, "CORS preflight max age.")
}

// Validate validates the CORS options.
func (o *CORSOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if len(o.AllowOrigins) == 0 {
		errs = append(errs, errors.New("CORS: AllowOrigins must be explicitly configured, empty list not allowed"))
	}
	for _, origin := range o.AllowOrigins {
		if origin == "*" {
			if o.AllowCredentials {
				errs = append(errs, errors.New("CORS: cannot use wildcard origin '*' with AllowCredentials=true"))
			}
			continue
		}
		if err := validateOriginFormat(origin); err != nil {
			errs = append(errs, fmt.Errorf("CORS: invalid origin format '%s': %w", origin, err))
		}
	}
	return errs
}

// validateOriginFormat 来源必须形如 scheme://host[:port]。
func validateOriginFormat(origin string) error {
	scheme, rest, ok := strings.Cut(origin, "://")
	if !ok || scheme == "" {
		return errors.New("origin must include scheme (http://, https:// or tauri://)")
	}
	if rest == "" {
		return errors.New("origin must include host")
	}
	if strings.ContainsAny(rest, "/?#") {
		return errors.New("origin should not include path, query, or fragment")
	}
	return nil
}

// Complete completes the CORS options with defaults.
func (o *CORSOptions) Complete() error {
	if len(o.AllowMethods) == 0 {
		o.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(o.AllowHeaders) == 0 {
		o.AllowHeaders = []string{"*"}
	}
	if o.MaxAge == 0 {
		o.MaxAge = 86400
	}
	return nil
}
