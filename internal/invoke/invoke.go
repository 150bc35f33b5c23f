// Package invoke turns a merged document into one result tree, either by
// calling a fetch capability or by handing back precomputed data.
//
// Both variants sit behind Invoker so the rest of the pipeline is written once.
// Fetch failures are returned exactly as the fetcher produced them.
package invoke

import (
	"context"
	"errors"

	language "github.com/hanpama/monoquery/internal/language"
)

// ErrNoData reports a fetch response without a data member.
var ErrNoData = errors.New("invoke: response has no data")

// Request is what a fetcher receives.
type Request struct {
	Document      *language.QueryDocument
	Variables     map[string]any
	OperationName string
}

// Response carries the result tree. Errors holds GraphQL errors reported next
// to data; a response with errors and no data should be returned as an error.
type Response struct {
	Data   any
	Errors language.ErrorList
}

// Invoker produces the result tree for one request.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Fetcher is the caller-supplied fetch capability. Implementations may block.
//
// A response whose data member is absent must be reported as ErrNoData
// (optionally wrapped with the response's errors), never as a Response with nil
// Data: Data is taken as the result tree as is, so a nil Data reads as a null
// result and every fragment resolves to an empty object. A nil *Response with a
// nil error is treated as ErrNoData.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }

// Fetch invokes a Fetcher.
type Fetch struct {
	Fetcher Fetcher
}

func (f Fetch) Invoke(ctx context.Context, req Request) (*Response, error) {
	resp, err := f.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoData
	}
	return resp, nil
}

// Static returns the same precomputed response for every request. It never
// blocks and ignores ctx.
type Static struct {
	Response Response
}

// NewStatic wraps data as a Static invoker.
func NewStatic(data any) Static {
	return Static{Response: Response{Data: data}}
}

func (s Static) Invoke(context.Context, Request) (*Response, error) {
	resp := s.Response
	return &resp, nil
}

// IsStatic reports whether inv settles without suspending.
func IsStatic(inv Invoker) bool {
	switch inv.(type) {
	case Static, *Static:
		return true
	}
	return false
}
