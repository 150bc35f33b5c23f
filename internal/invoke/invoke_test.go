package invoke

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	language "github.com/hanpama/monoquery/internal/language"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustParse(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return doc
}

func TestStatic_SettlesImmediately(t *testing.T) {
	data := map[string]any{"hello": "world"}
	p := Start(context.Background(), NewStatic(data), Request{})

	select {
	case <-p.Done():
	default:
		t.Fatalf("static invocation should be settled on return")
	}
	resp, err := p.Wait(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(any(data), resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestFetch_ReceivesRequest(t *testing.T) {
	doc := mustParse(t, `query Q { hello }`)
	var got Request
	f := FetcherFunc(func(ctx context.Context, req Request) (*Response, error) {
		got = req
		return &Response{Data: map[string]any{"hello": "world"}}, nil
	})

	resp, err := Start(context.Background(), Fetch{Fetcher: f}, Request{
		Document:      doc,
		Variables:     map[string]any{"id": 1},
		OperationName: "Q",
	}).Wait(context.Background())

	require.NoError(t, err)
	require.Same(t, doc, got.Document)
	require.Equal(t, "Q", got.OperationName)
	require.Equal(t, map[string]any{"id": 1}, got.Variables)
	require.Equal(t, map[string]any{"hello": "world"}, resp.Data)
}

func TestFetch_PropagatesErrorsUnchanged(t *testing.T) {
	boom := errors.New("boom")
	f := FetcherFunc(func(ctx context.Context, req Request) (*Response, error) { return nil, boom })

	_, err := Start(context.Background(), Fetch{Fetcher: f}, Request{}).Wait(context.Background())
	require.Same(t, boom, err)
}

func TestFetch_NilResponse(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, req Request) (*Response, error) { return nil, nil })

	_, err := Fetch{Fetcher: f}.Invoke(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoData)
}

func TestFetch_EmptyResponseIsNullData(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, req Request) (*Response, error) { return &Response{}, nil })

	resp, err := Fetch{Fetcher: f}.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	require.Nil(t, resp.Data)
}

func TestPending_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	f := FetcherFunc(func(ctx context.Context, req Request) (*Response, error) {
		<-release
		return &Response{Data: map[string]any{}}, nil
	})
	p := Start(context.Background(), Fetch{Fetcher: f}, Request{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	<-p.Done()
	_, err = p.Wait(context.Background())
	require.NoError(t, err)
}

func TestIsStatic(t *testing.T) {
	require.True(t, IsStatic(NewStatic(nil)))
	s := NewStatic(nil)
	require.True(t, IsStatic(&s))
	require.False(t, IsStatic(Fetch{}))
}

func TestStart_RunsSettleHooks(t *testing.T) {
	var calls []string
	hook := func(name string) SettleFunc {
		return func(resp *Response, err error) {
			require.NoError(t, err)
			require.NotNil(t, resp)
			calls = append(calls, name)
		}
	}

	p := Start(context.Background(), NewStatic(map[string]any{}), Request{}, hook("a"), hook("b"))
	if diff := cmp.Diff([]string{"a", "b"}, calls); diff != "" {
		t.Fatalf("hooks mismatch (-want +got):\n%s", diff)
	}
	_, err := p.Wait(context.Background())
	require.NoError(t, err)
}
