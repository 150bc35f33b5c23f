package monoquery

import (
	"context"
	"time"

	docmerge "github.com/hanpama/monoquery/internal/docmerge"
	eventbus "github.com/hanpama/monoquery/internal/eventbus"
	events "github.com/hanpama/monoquery/internal/events"
	invoke "github.com/hanpama/monoquery/internal/invoke"
	language "github.com/hanpama/monoquery/internal/language"
	"go.uber.org/zap"
)

// Request describes one combined query.
type Request struct {
	// Query holds the root operation. It spreads the fragments where their data
	// lives and may already embed their definitions.
	Query *Document
	// Fragments are merged into Query before it is fetched.
	Fragments FragmentMap
	// Variables are passed through to the fetcher unchanged.
	Variables map[string]any
	// OperationName selects the operation when Query holds several.
	OperationName string
}

// Client merges, fetches and splits combined queries. It is safe for
// concurrent use.
type Client struct {
	invoker invoke.Invoker
	log     *zap.Logger
}

// New creates a Client. Exactly one of WithFetcher or WithData is required.
func New(opts ...Option) (*Client, error) {
	var o Options
	for _, f := range opts {
		f(&o)
	}
	inv, err := o.invoker()
	if err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Client{invoker: inv, log: o.Logger}, nil
}

// Query merges req, invokes it once and waits for the result. indices pick list
// elements during extraction; see the package documentation.
func (c *Client) Query(ctx context.Context, req Request, indices ...int) (*Result, error) {
	return c.Start(ctx, req, indices...).Wait(ctx)
}

// Start is the non-blocking form of Query. With WithData the returned Pending
// is already settled.
func (c *Client) Start(ctx context.Context, req Request, indices ...int) *Pending {
	op, err := docmerge.Operation(req.Query, req.OperationName)
	if err != nil {
		return &Pending{p: invoke.Settled(nil, err)}
	}
	merged, err := docmerge.MergeOperation(req.Query, req.OperationName, req.Fragments.entries())
	if err != nil {
		return &Pending{p: invoke.Settled(nil, err)}
	}

	c.log.Debug("invoking merged operation",
		zap.String("operation", op.Name),
		zap.Int("fragments", len(req.Fragments)),
		zap.Ints("indices", indices),
	)
	eventbus.Publish(ctx, events.QueryStart{
		OperationName: op.Name,
		OperationType: string(op.Operation),
		Fragments:     len(req.Fragments),
	})
	start := time.Now()
	finish := func(_ *invoke.Response, err error) {
		if err != nil {
			c.log.Debug("invocation failed", zap.String("operation", op.Name), zap.Error(err))
		}
		eventbus.Publish(ctx, events.QueryFinish{
			OperationName: op.Name,
			OperationType: string(op.Operation),
			Err:           err,
			Duration:      time.Since(start),
		})
	}

	p := invoke.Start(ctx, c.invoker, invoke.Request{
		Document:      merged,
		Variables:     req.Variables,
		OperationName: req.OperationName,
	}, finish)

	return &Pending{
		p:       p,
		ctx:     ctx,
		root:    op,
		defs:    merged.Fragments,
		merged:  merged,
		indices: append([]int(nil), indices...),
		log:     c.log,
	}
}

// Pending is a query whose fetch may still be running.
type Pending struct {
	p       *invoke.Pending
	ctx     context.Context
	root    *language.OperationDefinition
	defs    language.FragmentDefinitionList // definitions of the merged document
	merged  *Document
	indices []int
	log     *zap.Logger
}

// Done is closed once the fetch settled.
func (p *Pending) Done() <-chan struct{} { return p.p.Done() }

// Wait blocks until the fetch settled or ctx is done. Fetch errors are
// returned unchanged.
func (p *Pending) Wait(ctx context.Context) (*Result, error) {
	resp, err := p.p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{
		ctx:      p.ctx,
		response: resp,
		root:     p.root,
		defs:     p.defs,
		merged:   p.merged,
		indices:  p.indices,
		log:      p.log,
	}, nil
}
