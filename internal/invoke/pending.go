package invoke

import "context"

// Pending is an invocation that may still be running.
type Pending struct {
	done chan struct{}
	resp *Response
	err  error
}

// SettleFunc observes the outcome of an invocation before waiters see it.
type SettleFunc func(resp *Response, err error)

// Start invokes inv. Static invokers are settled before Start returns; any
// other invoker runs on its own goroutine, which exits when it settles.
// onSettle hooks run on that goroutine, in order.
func Start(ctx context.Context, inv Invoker, req Request, onSettle ...SettleFunc) *Pending {
	p := &Pending{done: make(chan struct{})}
	run := func() {
		defer close(p.done)
		p.resp, p.err = inv.Invoke(ctx, req)
		for _, fn := range onSettle {
			fn(p.resp, p.err)
		}
	}
	if IsStatic(inv) {
		run()
		return p
	}
	go run()
	return p
}

// Settled returns a Pending that is already complete.
func Settled(resp *Response, err error) *Pending {
	p := &Pending{done: make(chan struct{}), resp: resp, err: err}
	close(p.done)
	return p
}

// Done is closed once the invocation settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the invocation settled or ctx is done. Abandoning the wait
// does not stop the invocation; cancel the context passed to Start for that.
func (p *Pending) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
