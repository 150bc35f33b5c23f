package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the split service receives a request.
// The event context carries the request id.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the split service answered.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}
