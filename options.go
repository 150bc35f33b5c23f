package monoquery

import (
	"context"
	"errors"

	invoke "github.com/hanpama/monoquery/internal/invoke"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned by New unless exactly one of WithFetcher and
// WithData is given.
var ErrInvalidConfig = errors.New("monoquery: configure exactly one of WithFetcher or WithData")

// Options configures a Client. Build it through the With functions.
type Options struct {
	// Fetcher resolves merged operations. Mutually exclusive with Data.
	Fetcher invoke.Fetcher

	// Data is used as the result of every operation, with no fetch at all.
	Data    any
	HasData bool

	// Logger receives debug output. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithFetcher resolves every merged operation through f.
func WithFetcher(f Fetcher) Option { return func(o *Options) { o.Fetcher = f } }

// WithFetchFunc is WithFetcher for a plain function.
func WithFetchFunc(f func(ctx context.Context, req FetchRequest) (*FetchResponse, error)) Option {
	return WithFetcher(invoke.FetcherFunc(f))
}

// WithData uses data as the result tree of every operation. Queries complete
// synchronously.
func WithData(data any) Option {
	return func(o *Options) {
		o.Data = data
		o.HasData = true
	}
}

// WithLogger sets the logger that receives debug output.
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

func (o *Options) invoker() (invoke.Invoker, error) {
	switch {
	case o.Fetcher != nil && o.HasData, o.Fetcher == nil && !o.HasData:
		return nil, ErrInvalidConfig
	case o.HasData:
		return invoke.NewStatic(o.Data), nil
	default:
		return invoke.Fetch{Fetcher: o.Fetcher}, nil
	}
}
