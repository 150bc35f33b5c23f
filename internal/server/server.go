// Package server exposes merge-and-split over HTTP. A request carries a root
// query and fragment sources; the handler fetches the merged operation once
// from upstream and answers with one sub-result per fragment key.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanpama/monoquery"
	doccache "github.com/hanpama/monoquery/internal/doccache"
	eventbus "github.com/hanpama/monoquery/internal/eventbus"
	events "github.com/hanpama/monoquery/internal/events"
	httpfetch "github.com/hanpama/monoquery/internal/httpfetch"
	invoke "github.com/hanpama/monoquery/internal/invoke"
	language "github.com/hanpama/monoquery/internal/language"
	reqid "github.com/hanpama/monoquery/internal/reqid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler is an http.Handler serving the split endpoint.
type Handler struct {
	client *monoquery.Client
	cache  *doccache.Cache
	opt    Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// ForwardHeaders lists HTTP headers passed on to the upstream fetch.
	// Header names are case-insensitive. Default is none.
	ForwardHeaders []string

	// BatchLimit caps how many elements of a batch run at once.
	BatchLimit int

	// CacheSize is the number of parsed documents kept.
	CacheSize int

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithBatchLimit(n int) Option        { return func(o *Options) { o.BatchLimit = n } }
func WithCacheSize(n int) Option         { return func(o *Options) { o.CacheSize = n } }
func WithLogger(l *zap.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithForwardHeaders(headers ...string) Option {
	return func(o *Options) { o.ForwardHeaders = headers }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// ErrNoFetcher is returned by New without an upstream fetcher.
var ErrNoFetcher = errors.New("server: upstream fetcher is required")

// New creates a split handler resolving merged operations through upstream.
func New(upstream invoke.Fetcher, opts ...Option) (*Handler, error) {
	if upstream == nil {
		return nil, ErrNoFetcher
	}
	op := Options{Timeout: 10 * time.Second, BatchLimit: 8}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = zap.NewNop()
	}
	client, err := monoquery.New(monoquery.WithFetcher(upstream), monoquery.WithLogger(op.Logger))
	if err != nil {
		return nil, err
	}
	return &Handler{client: client, cache: doccache.New(op.CacheSize), opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	w.Header().Set(reqid.Header, reqid.String(ctx))
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(&language.Error{Message: "method not allowed"}), h.opt.Pretty)
		return
	}

	if len(h.opt.ForwardHeaders) > 0 {
		fwd := http.Header{}
		for _, hdr := range h.opt.ForwardHeaders {
			if vs := r.Header.Values(hdr); len(vs) > 0 {
				fwd[http.CanonicalHeaderKey(hdr)] = vs
			}
		}
		ctx = httpfetch.WithOutgoingHeaders(ctx, fwd)
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		out := make([]SplitResponse, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		if h.opt.BatchLimit > 0 {
			g.SetLimit(h.opt.BatchLimit)
		}
		for i := range batch {
			g.Go(func() error {
				out[i], _ = h.splitOne(reqid.WithItem(gctx, i+1), batch[i])
				return nil
			})
		}
		_ = g.Wait()
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	res, code := h.splitOne(ctx, req)
	status = code
	writeJSON(w, status, res, h.opt.Pretty)
}

// splitOne answers one request. The returned status is what a non-batched
// response is sent with.
func (h *Handler) splitOne(ctx context.Context, req SplitRequest) (SplitResponse, int) {
	log := h.opt.Logger.With(zap.String("request_id", reqid.String(ctx)), zap.Int("item", reqid.Item(ctx)))

	query, err := h.cache.Parse(req.Query)
	if err != nil {
		return errorResponse(asGraphQLError(err)), http.StatusBadRequest
	}
	fragments := make(monoquery.FragmentMap, 0, len(req.Fragments))
	for _, f := range req.Fragments {
		doc, err := h.cache.Parse(f.Source)
		if err != nil {
			e := asGraphQLError(err)
			e.Extensions = map[string]any{"fragment": f.Key}
			return errorResponse(e), http.StatusBadRequest
		}
		fragments = append(fragments, monoquery.Fragment{Key: f.Key, Document: doc})
	}

	result, err := h.client.Query(ctx, monoquery.Request{
		Query:         query,
		Fragments:     fragments,
		Variables:     req.Variables,
		OperationName: req.OperationName,
	}, req.Indices...)
	if err != nil {
		log.Info("split request failed", zap.Error(err))
		var me *monoquery.MergeError
		if errors.As(err, &me) {
			return errorResponse(&language.Error{Message: err.Error()}), http.StatusBadRequest
		}
		return errorResponse(&language.Error{Message: err.Error()}), http.StatusBadGateway
	}

	results, err := result.GetResultsFor(fragments)
	if err != nil {
		log.Info("split failed", zap.Error(err))
		return errorResponse(&language.Error{Message: err.Error()}), http.StatusUnprocessableEntity
	}
	return SplitResponse{Results: results, Errors: result.Errors()}, http.StatusOK
}

// ------------------ Request parsing ------------------

// FragmentSource is one keyed fragment in GraphQL source form.
type FragmentSource struct {
	Key    string `json:"key"`
	Source string `json:"source"`
}

type SplitRequest struct {
	Query         string           `json:"query"`
	Fragments     []FragmentSource `json:"fragments,omitempty"`
	Variables     map[string]any   `json:"variables,omitempty"`
	OperationName string           `json:"operationName,omitempty"`
	Indices       []int            `json:"indices,omitempty"`
}

func (r SplitRequest) validate() *language.Error {
	if r.Query == "" {
		return &language.Error{Message: "missing 'query'"}
	}
	for _, f := range r.Fragments {
		if f.Key == "" || f.Source == "" {
			return &language.Error{Message: "fragments need 'key' and 'source'"}
		}
	}
	return nil
}

func parseRequest(r *http.Request, maxBody int64) (SplitRequest, []SplitRequest, *language.Error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return SplitRequest{}, nil, &language.Error{Message: "unsupported Content-Type"}
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return SplitRequest{}, nil, &language.Error{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return SplitRequest{}, nil, &language.Error{Message: errBodyTooLargeMessage}
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []SplitRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return SplitRequest{}, nil, &language.Error{Message: "invalid JSON"}
		}
		if len(arr) == 0 {
			return SplitRequest{}, nil, &language.Error{Message: "empty batch"}
		}
		for i := range arr {
			if e := arr[i].validate(); e != nil {
				e.Extensions = map[string]any{"item": i}
				return SplitRequest{}, nil, e
			}
		}
		return SplitRequest{}, arr, nil
	}

	var req SplitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return SplitRequest{}, nil, &language.Error{Message: "invalid JSON"}
	}
	if e := req.validate(); e != nil {
		return SplitRequest{}, nil, e
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

// SplitResponse maps every fragment key to its sub-result. Errors carries
// request failures and the GraphQL errors upstream reported next to data.
type SplitResponse struct {
	Results map[string]map[string]any `json:"results"`
	Errors  language.ErrorList        `json:"errors,omitempty"`
}

func errorResponse(err *language.Error) SplitResponse {
	return SplitResponse{Results: map[string]map[string]any{}, Errors: language.ErrorList{err}}
}

func asGraphQLError(err error) *language.Error {
	var ge *language.Error
	if errors.As(err, &ge) {
		cp := *ge
		return &cp
	}
	return &language.Error{Message: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
