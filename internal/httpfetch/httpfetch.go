// Package httpfetch posts merged operations to a GraphQL endpoint over HTTP.
package httpfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	eventbus "github.com/hanpama/monoquery/internal/eventbus"
	events "github.com/hanpama/monoquery/internal/events"
	invoke "github.com/hanpama/monoquery/internal/invoke"
	language "github.com/hanpama/monoquery/internal/language"
	reqid "github.com/hanpama/monoquery/internal/reqid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const errorBodyLimit = 512

// Client is an invoke.Fetcher speaking the GraphQL-over-HTTP POST protocol.
// It is safe for concurrent use.
type Client struct {
	opts *Options
}

var _ invoke.Fetcher = (*Client)(nil)

func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Client{opts: o}
}

type requestBody struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

func (c *Client) Fetch(ctx context.Context, req invoke.Request) (resp *invoke.Response, err error) {
	if c.opts.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if _, ok := ctx.Deadline(); !ok && c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(requestBody{
		Query:         language.PrintQuery(req.Document),
		Variables:     req.Variables,
		OperationName: req.OperationName,
	})
	if err != nil {
		return nil, fmt.Errorf("httpfetch: encode request: %w", err)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpfetch: %w", err)
	}
	for k, vs := range c.opts.Headers {
		hr.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range OutgoingHeaders(ctx) {
		hr.Header[k] = append(hr.Header[k], vs...)
	}
	if id := reqid.String(ctx); id != "" {
		hr.Header.Set(reqid.Header, id)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")

	status := 0
	start := time.Now()
	eventbus.Publish(ctx, events.FetchStart{Endpoint: c.opts.Endpoint, OperationName: req.OperationName})
	defer func() {
		eventbus.Publish(ctx, events.FetchFinish{
			Endpoint:      c.opts.Endpoint,
			OperationName: req.OperationName,
			Status:        status,
			Err:           err,
			Duration:      time.Since(start),
		})
		if err != nil {
			c.opts.Logger.Debug("fetch failed",
				zap.String("endpoint", c.opts.Endpoint),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
	}()

	res, err := c.opts.HTTPClient.Do(hr)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	status = res.StatusCode

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		if len(raw) > errorBodyLimit {
			raw = raw[:errorBodyLimit]
		}
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	return decode(raw)
}

// decode reads the data and errors members in one pass over raw. Only those
// two members are unmarshaled.
func decode(raw []byte) (*invoke.Response, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("httpfetch: response is not valid JSON")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("httpfetch: response is not a JSON object")
	}
	members := gjson.GetManyBytes(raw, "data", "errors")
	dataMember, errorsMember := members[0], members[1]

	var errs language.ErrorList
	if errorsMember.Exists() {
		if err := json.Unmarshal([]byte(errorsMember.Raw), &errs); err != nil {
			return nil, fmt.Errorf("httpfetch: decode errors: %w", err)
		}
	}
	if !dataMember.Exists() {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %v", invoke.ErrNoData, errs)
		}
		return nil, invoke.ErrNoData
	}

	var data any
	if err := json.Unmarshal([]byte(dataMember.Raw), &data); err != nil {
		return nil, fmt.Errorf("httpfetch: decode data: %w", err)
	}
	return &invoke.Response{Data: data, Errors: errs}, nil
}
