// Package reqid tags a request context with a random id that correlates the
// events one request produces.
package reqid

import (
	"context"
	"math/rand/v2"
	"strconv"
)

// Header carries the id on upstream HTTP calls and on responses.
const Header = "X-Monoquery-Request-Id"

type key struct{}

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int64N(1<<63-1) + 1
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(key{}).(int64)
	return id, ok
}

// String renders the id of ctx for headers, or "" when there is none.
func String(ctx context.Context) string {
	id, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

type itemKey struct{}

// WithItem marks ctx as handling the n-th element of a batched request.
// Element numbers start at 1; 0 means the request is not batched.
func WithItem(parent context.Context, n int) context.Context {
	return context.WithValue(parent, itemKey{}, n)
}

// Item returns the batch element number stored by WithItem, or 0.
func Item(ctx context.Context) int {
	n, _ := ctx.Value(itemKey{}).(int)
	return n
}
