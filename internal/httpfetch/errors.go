package httpfetch

import (
	"errors"
	"fmt"
)

// ErrNoEndpoint indicates the fetcher was built without WithEndpoint.
var ErrNoEndpoint = errors.New("httpfetch: endpoint not configured")

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	// Body holds the start of the response body.
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("httpfetch: upstream responded %d", e.StatusCode)
	}
	return fmt.Sprintf("httpfetch: upstream responded %d: %s", e.StatusCode, e.Body)
}
