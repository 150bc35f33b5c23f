package events

import "time"

// FetchStart is emitted before the HTTP transport posts an operation upstream.
type FetchStart struct {
	Endpoint      string
	OperationName string
}

// FetchFinish is emitted after the upstream call completes.
type FetchFinish struct {
	Endpoint      string
	OperationName string
	Status        int
	Err           error
	Duration      time.Duration
}
