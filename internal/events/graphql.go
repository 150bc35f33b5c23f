package events

import "time"

// QueryStart is emitted before a merged operation is invoked.
type QueryStart struct {
	OperationName string
	OperationType string
	Fragments     int
}

// QueryFinish is emitted once the invocation settled.
type QueryFinish struct {
	OperationName string
	OperationType string
	Err           error
	Duration      time.Duration
}

// SplitFinish is emitted after a result was split into per-fragment results.
type SplitFinish struct {
	Fragments       int
	Found           int
	IndicesConsumed int
	Err             error
}
