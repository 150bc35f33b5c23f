package httpfetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	eventbus "github.com/hanpama/monoquery/internal/eventbus"
	events "github.com/hanpama/monoquery/internal/events"
	invoke "github.com/hanpama/monoquery/internal/invoke"
	language "github.com/hanpama/monoquery/internal/language"
	reqid "github.com/hanpama/monoquery/internal/reqid"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return doc
}

func TestFetch_PostsOperation(t *testing.T) {
	var got requestBody
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		header = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"hello":"world","n":1}}`))
	}))
	defer srv.Close()

	c := New(WithEndpoint(srv.URL), WithHeader("Authorization", "Bearer t"))
	ctx, id := reqid.NewContext(context.Background())
	ctx = WithOutgoingHeaders(ctx, http.Header{"X-Tenant": {"acme"}})

	resp, err := c.Fetch(ctx, invoke.Request{
		Document:      mustParse(t, `query Q($id: ID) { hello }`),
		Variables:     map[string]any{"id": "1"},
		OperationName: "Q",
	})
	require.NoError(t, err)

	if diff := cmp.Diff(any(map[string]any{"hello": "world", "n": float64(1)}), resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "Q", got.OperationName)
	require.Equal(t, map[string]any{"id": "1"}, got.Variables)
	reparsed := mustParse(t, got.Query)
	require.Equal(t, "Q", reparsed.Operations[0].Name)

	require.Equal(t, "Bearer t", header.Get("Authorization"))
	require.Equal(t, "acme", header.Get("X-Tenant"))
	require.Equal(t, "application/json", header.Get("Content-Type"))
	require.Equal(t, reqid.String(ctx), header.Get(reqid.Header))
	require.NotZero(t, id)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "non-2xx status",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(t *testing.T, err error) {
				var he *HTTPError
				require.ErrorAs(t, err, &he)
				require.Equal(t, http.StatusBadGateway, he.StatusCode)
				require.Equal(t, "upstream down", he.Body)
			},
		},
		{
			name:   "no data member",
			status: http.StatusOK,
			body:   `{}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, invoke.ErrNoData)
			},
		},
		{
			name:   "errors without data",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"denied"}]}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, invoke.ErrNoData)
				require.ErrorContains(t, err, "denied")
			},
		},
		{
			name:   "invalid json",
			status: http.StatusOK,
			body:   `{"data":`,
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "not valid JSON")
			},
		},
		{
			name:   "not an object",
			status: http.StatusOK,
			body:   `[{"data":{}}]`,
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "not a JSON object")
			},
		},
		{
			name:   "malformed errors member",
			status: http.StatusOK,
			body:   `{"data":{},"errors":"denied"}`,
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "decode errors")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), invoke.Request{Document: mustParse(t, `{ a }`)})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestFetch_KeepsPartialErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"a":null},"errors":[{"message":"a failed","path":["a"]}]}`))
	}))
	defer srv.Close()

	resp, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), invoke.Request{Document: mustParse(t, `{ a }`)})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": nil}, resp.Data)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, "a failed", resp.Errors[0].Message)
}

func TestFetch_NullData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"viewer failed"}],"data":null}`))
	}))
	defer srv.Close()

	resp, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), invoke.Request{Document: mustParse(t, `{ a }`)})
	require.NoError(t, err)
	require.Nil(t, resp.Data)
	require.Len(t, resp.Errors, 1)
}

func TestFetch_NoEndpoint(t *testing.T) {
	_, err := New().Fetch(context.Background(), invoke.Request{Document: mustParse(t, `{ a }`)})
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(WithEndpoint(srv.URL), WithTimeout(20*time.Millisecond)).
		Fetch(context.Background(), invoke.Request{Document: mustParse(t, `{ a }`)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_PublishesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var starts []events.FetchStart
	var finishes []events.FetchFinish
	unsubStart := eventbus.Subscribe(func(ctx context.Context, e events.FetchStart) { starts = append(starts, e) })
	defer unsubStart()
	unsubFinish := eventbus.Subscribe(func(ctx context.Context, e events.FetchFinish) { finishes = append(finishes, e) })
	defer unsubFinish()

	_, err := New(WithEndpoint(srv.URL)).Fetch(context.Background(), invoke.Request{Document: mustParse(t, `{ a }`), OperationName: "Op"})
	require.NoError(t, err)

	require.Len(t, starts, 1)
	require.Equal(t, srv.URL, starts[0].Endpoint)
	require.Equal(t, "Op", starts[0].OperationName)
	require.Len(t, finishes, 1)
	require.Equal(t, http.StatusOK, finishes[0].Status)
	require.NoError(t, finishes[0].Err)
}
