package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hanpama/monoquery"
	"github.com/hanpama/monoquery/internal/eventbus"
	"github.com/hanpama/monoquery/internal/httpfetch"
	"github.com/hanpama/monoquery/internal/language"
	"github.com/hanpama/monoquery/internal/logging"
	"github.com/hanpama/monoquery/internal/otel"
	"github.com/hanpama/monoquery/internal/server"
	"go.uber.org/zap"
)

const rootUsage = `monoquery: share one GraphQL round-trip between many fragments

USAGE:
  monoquery [-env-file <file>] <command> [flags]

COMMANDS:
  split            Merge fragments into a query, resolve it once, print each fragment's result
  merge            Print the merged document without resolving it
  serve            Run the HTTP split service in front of a GraphQL endpoint
  help             Show help for any command

ENVIRONMENT:
  Flags fall back to MONOQUERY_* variables, read from the process environment
  and from -env-file (default: .env, ignored when missing).
`

const splitUsage = `split FLAGS:
  -query <file>             Root query document (required)
  -fragment <key=file>      Fragment document under a result key. Repeatable, order matters
  -operation <name>         Operation to run when the query holds several
  -data <file>              Use this JSON file as the result tree; no fetch is made
  -endpoint <url>           GraphQL endpoint to fetch from (env: MONOQUERY_ENDPOINT)
  -timeout <duration>       Fetch timeout (default: 10s, env: MONOQUERY_TIMEOUT)
  -header <Name: value>     Extra request header for the endpoint. Repeatable
  -variables <json>         Operation variables as a JSON object
  -index <n>                List index used when extraction steps onto a list. Repeatable
  -log.level <level>        debug, info, warn or error (default: warn, env: MONOQUERY_LOG_LEVEL)
  Exactly one of -data and -endpoint is required.
`

const mergeUsage = `merge FLAGS:
  -query <file>             Root query document (required)
  -fragment <key=file>      Fragment document under a key. Repeatable, order matters
  -operation <name>         Operation to merge when the query holds several
  -compact                  Print on one line
`

const serveUsage = `serve FLAGS:
  -server.addr <addr>                 HTTP listen address (default: :8080, env: MONOQUERY_ADDR)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes <n>          Request body limit in bytes (default: 1048576)
  -server.cors-origin <origin>        Allowed CORS origin, or *. Repeatable
  -server.forward-header <name>       Forward HTTP header to the upstream endpoint. Repeatable
  -server.batch-limit <n>             Concurrent elements per batched request (default: 8)
  -server.cache-size <n>              Parsed documents kept in memory (default: 1024)
  -upstream.endpoint <url>            GraphQL endpoint to fetch from (required, env: MONOQUERY_ENDPOINT)
  -upstream.timeout <duration>        Upstream timeout (default: 10s, env: MONOQUERY_TIMEOUT)
  -otel.endpoint <addr>               OTLP collector endpoint (env: MONOQUERY_OTEL_ENDPOINT)
  -otel.service <name>                OpenTelemetry service name (default: monoquery)
  -log.level <level>                  debug, info, warn or error (default: info, env: MONOQUERY_LOG_LEVEL)
  -log.dev                            Human-readable development logs (env: MONOQUERY_LOG_DEV)
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	envFile := ".env"
	global := flag.NewFlagSet("monoquery", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	global.StringVar(&envFile, "env-file", envFile, "dotenv file with MONOQUERY_* defaults")
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	if err := loadEnv(envFile); err != nil {
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "split":
		return cmdSplit(cmdArgs, stdout)
	case "merge":
		return cmdMerge(cmdArgs, stdout)
	case "serve":
		return cmdServe(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "split":
		fmt.Fprint(stdout, splitUsage)
	case "merge":
		fmt.Fprint(stdout, mergeUsage)
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

// fragmentFlag collects key=file pairs in the order given.
type fragmentFlag struct {
	keys  []string
	files []string
}

func (f *fragmentFlag) String() string { return "" }

func (f *fragmentFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid fragment %q, want key=file", v)
	}
	key := strings.TrimSpace(parts[0])
	file := strings.TrimSpace(parts[1])
	if key == "" || file == "" {
		return fmt.Errorf("invalid fragment %q, want key=file", v)
	}
	f.keys = append(f.keys, key)
	f.files = append(f.files, file)
	return nil
}

func (f *fragmentFlag) load() (monoquery.FragmentMap, error) {
	out := make(monoquery.FragmentMap, 0, len(f.keys))
	for i, key := range f.keys {
		doc, err := parseFile(f.files[i])
		if err != nil {
			return nil, err
		}
		out = append(out, monoquery.Fragment{Key: key, Document: doc})
	}
	return out, nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type intListFlag []int

func (s *intListFlag) String() string { return "" }

func (s *intListFlag) Set(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid index %q", v)
	}
	*s = append(*s, n)
	return nil
}

func parseFile(path string) (*monoquery.Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := language.ParseNamedQuery(path, string(src))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func cmdMerge(args []string, stdout io.Writer) error {
	queryFile := ""
	operation := ""
	compact := false
	var fragments fragmentFlag
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&queryFile, "query", queryFile, "Root query document")
	fs.Var(&fragments, "fragment", "Fragment document under a key")
	fs.StringVar(&operation, "operation", operation, "Operation to merge")
	fs.BoolVar(&compact, "compact", compact, "Print on one line")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, mergeUsage)
		return err
	}
	if queryFile == "" {
		fmt.Fprint(os.Stderr, mergeUsage)
		return fmt.Errorf("-query is required")
	}

	query, err := parseFile(queryFile)
	if err != nil {
		return err
	}
	fm, err := fragments.load()
	if err != nil {
		return err
	}
	merged, err := monoquery.Merge(query, operation, fm)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if compact {
		fmt.Fprintln(stdout, language.PrintQueryCompact(merged))
		return nil
	}
	fmt.Fprint(stdout, language.PrintQuery(merged))
	return nil
}

func cmdSplit(args []string, stdout io.Writer) error {
	queryFile := ""
	operation := ""
	dataFile := ""
	endpoint := getEnv("MONOQUERY_ENDPOINT", "")
	timeout := getEnvDuration("MONOQUERY_TIMEOUT", 10*time.Second)
	variables := ""
	logLevel := getEnv("MONOQUERY_LOG_LEVEL", "warn")
	var fragments fragmentFlag
	var headers stringListFlag
	var indices intListFlag

	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&queryFile, "query", queryFile, "Root query document")
	fs.Var(&fragments, "fragment", "Fragment document under a result key")
	fs.StringVar(&operation, "operation", operation, "Operation to run")
	fs.StringVar(&dataFile, "data", dataFile, "JSON result tree")
	fs.StringVar(&endpoint, "endpoint", endpoint, "GraphQL endpoint")
	fs.DurationVar(&timeout, "timeout", timeout, "Fetch timeout")
	fs.Var(&headers, "header", "Extra request header")
	fs.StringVar(&variables, "variables", variables, "Operation variables as JSON")
	fs.Var(&indices, "index", "List index")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, splitUsage)
		return err
	}
	if queryFile == "" {
		fmt.Fprint(os.Stderr, splitUsage)
		return fmt.Errorf("-query is required")
	}
	if (dataFile == "") == (endpoint == "") {
		fmt.Fprint(os.Stderr, splitUsage)
		return fmt.Errorf("exactly one of -data and -endpoint is required")
	}

	logger, err := logging.New(logLevel, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	query, err := parseFile(queryFile)
	if err != nil {
		return err
	}
	fm, err := fragments.load()
	if err != nil {
		return err
	}
	var vars map[string]any
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return fmt.Errorf("invalid -variables: %w", err)
		}
	}

	opts := []monoquery.Option{monoquery.WithLogger(logger)}
	if dataFile != "" {
		raw, err := os.ReadFile(dataFile)
		if err != nil {
			return err
		}
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse %s: %w", dataFile, err)
		}
		opts = append(opts, monoquery.WithData(data))
	} else {
		fopts := []httpfetch.Option{
			httpfetch.WithEndpoint(endpoint),
			httpfetch.WithTimeout(timeout),
			httpfetch.WithLogger(logger),
		}
		for _, h := range headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q, want 'Name: value'", h)
			}
			fopts = append(fopts, httpfetch.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
		}
		opts = append(opts, monoquery.WithFetcher(httpfetch.New(fopts...)))
	}

	client, err := monoquery.New(opts...)
	if err != nil {
		return err
	}
	ctx := context.Background()
	res, err := client.Query(ctx, monoquery.Request{
		Query:         query,
		Fragments:     fm,
		Variables:     vars,
		OperationName: operation,
	}, indices...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	for _, e := range res.Errors() {
		logger.Warn("upstream reported an error", zap.String("message", e.Message))
	}
	results, err := res.GetResultsFor(fm)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func cmdServe(args []string) error {
	addr := getEnv("MONOQUERY_ADDR", ":8080")
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(1 << 20)
	batchLimit := 8
	cacheSize := 1024
	endpoint := getEnv("MONOQUERY_ENDPOINT", "")
	upstreamTimeout := getEnvDuration("MONOQUERY_TIMEOUT", 10*time.Second)
	otelEndpoint := getEnv("MONOQUERY_OTEL_ENDPOINT", "")
	otelService := "monoquery"
	logLevel := getEnv("MONOQUERY_LOG_LEVEL", "info")
	logDev := getEnvBool("MONOQUERY_LOG_DEV", false)
	var origins, forwardHeaders stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body-bytes", maxBody, "Request body limit")
	fs.Var(&origins, "server.cors-origin", "Allowed CORS origin")
	fs.Var(&forwardHeaders, "server.forward-header", "Forward HTTP header upstream")
	fs.IntVar(&batchLimit, "server.batch-limit", batchLimit, "Concurrent batch elements")
	fs.IntVar(&cacheSize, "server.cache-size", cacheSize, "Parsed documents kept")
	fs.StringVar(&endpoint, "upstream.endpoint", endpoint, "GraphQL endpoint")
	fs.DurationVar(&upstreamTimeout, "upstream.timeout", upstreamTimeout, "Upstream timeout")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	fs.BoolVar(&logDev, "log.dev", logDev, "Development logs")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if endpoint == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-upstream.endpoint is required")
	}

	logger, err := logging.New(logLevel, logDev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	upstream := httpfetch.New(
		httpfetch.WithEndpoint(endpoint),
		httpfetch.WithTimeout(upstreamTimeout),
		httpfetch.WithLogger(logger),
	)
	sopts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxBodyBytes(maxBody),
		server.WithBatchLimit(batchLimit),
		server.WithCacheSize(cacheSize),
	}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if len(origins) > 0 {
		sopts = append(sopts, server.WithCORS(origins...))
	}
	if len(forwardHeaders) > 0 {
		sopts = append(sopts, server.WithForwardHeaders(forwardHeaders...))
	}
	h, err := server.New(upstream, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/split", h)

	srv := &http.Server{Addr: addr, Handler: mux}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("split service listening", zap.String("addr", addr), zap.String("upstream", endpoint))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
