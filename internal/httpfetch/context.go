package httpfetch

import (
	"context"
	"net/http"
)

type headersKey struct{}

// WithOutgoingHeaders returns a copy of ctx whose fetches also send h.
// Headers already attached to ctx are kept.
func WithOutgoingHeaders(ctx context.Context, h http.Header) context.Context {
	merged := OutgoingHeaders(ctx).Clone()
	if merged == nil {
		merged = http.Header{}
	}
	for k, vs := range h {
		for _, v := range vs {
			merged.Add(k, v)
		}
	}
	return context.WithValue(ctx, headersKey{}, merged)
}

// OutgoingHeaders returns the headers attached by WithOutgoingHeaders.
func OutgoingHeaders(ctx context.Context) http.Header {
	h, _ := ctx.Value(headersKey{}).(http.Header)
	return h
}
