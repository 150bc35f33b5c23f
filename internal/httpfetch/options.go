package httpfetch

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Options configures the HTTP fetcher.
//
// Defaults:
// - Timeout:    10s (used only if the context has no deadline)
// - HTTPClient: a client without its own timeout
// - Logger:     no-op
//
// Endpoint must be set.
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	Headers    http.Header
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Timeout: 10 * time.Second,
		Headers: http.Header{},
	}
}

func WithEndpoint(url string) Option       { return func(o *Options) { o.Endpoint = url } }
func WithTimeout(d time.Duration) Option   { return func(o *Options) { o.Timeout = d } }
func WithHTTPClient(c *http.Client) Option { return func(o *Options) { o.HTTPClient = c } }
func WithLogger(l *zap.Logger) Option      { return func(o *Options) { o.Logger = l } }

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(o *Options) { o.Headers.Add(key, value) }
}
