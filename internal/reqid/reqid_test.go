package reqid

import (
	"context"
	"strconv"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got != id {
		t.Fatalf("expected %d from context, got %d ok=%v", id, got, ok)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
	if s := String(ctx); s != strconv.FormatInt(id, 10) {
		t.Fatalf("String() = %q", s)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected id in empty context")
	}
	if s := String(context.Background()); s != "" {
		t.Fatalf("String() on empty context = %q", s)
	}
}

func TestItem(t *testing.T) {
	if n := Item(context.Background()); n != 0 {
		t.Fatalf("Item() on empty context = %d", n)
	}
	ctx, id := NewContext(context.Background())
	ctx = WithItem(ctx, 3)
	if n := Item(ctx); n != 3 {
		t.Fatalf("Item() = %d, want 3", n)
	}
	if got, _ := FromContext(ctx); got != id {
		t.Fatalf("request id lost: got %d want %d", got, id)
	}
}
