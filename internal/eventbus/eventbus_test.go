package eventbus

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type ping struct{ N int }
type pong struct{ S string }

func TestPublishSubscribe(t *testing.T) {
	Use(New())
	t.Cleanup(func() { Use(nil) })

	var got []string
	unA := Subscribe(func(ctx context.Context, e ping) { got = append(got, "a") })
	unB := Subscribe(func(ctx context.Context, e ping) { got = append(got, "b") })
	defer unB()
	Subscribe(func(ctx context.Context, e pong) { got = append(got, "pong:"+e.S) })

	Publish(context.Background(), ping{N: 1})
	Publish(context.Background(), pong{S: "x"})
	unA()
	unA()
	Publish(context.Background(), ping{N: 2})

	want := []string{"a", "b", "pong:x", "b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dispatch mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishWithoutBus(t *testing.T) {
	Use(nil)
	called := false
	unsubscribe := Subscribe(func(ctx context.Context, e ping) { called = true })
	Publish(context.Background(), ping{})
	unsubscribe()
	if called {
		t.Fatalf("handler should not run without a bus")
	}
}
