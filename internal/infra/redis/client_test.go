package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vietddude/depwatch/internal/infra/storage"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(Config{URL: "redis://" + mr.Addr(), KeyPrefix: "depwatch:"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestClient_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	if err := c.Put(ctx, "snapshot", []byte(`{"ok":true}`), 30*time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !mr.Exists("depwatch:snapshot") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := mr.TTL("depwatch:snapshot"); ttl != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", ttl)
	}

	got, err := c.Get(ctx, "snapshot")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("Get = %s", got)
	}

	if err := c.Delete(ctx, "snapshot"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "snapshot"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestClient_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	c.Put(ctx, "snapshot", []byte("x"), time.Minute)
	mr.FastForward(61 * time.Second)

	if _, err := c.Get(ctx, "snapshot"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after ttl", err)
	}
}

func TestNewClient_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"bad url", "://nope"},
		{"unreachable", "redis://127.0.0.1:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(Config{URL: tt.url}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClient_GetFailure(t *testing.T) {
	c, mr := newTestClient(t)
	mr.SetError("LOADING")

	if _, err := c.Get(context.Background(), "k"); err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected a wrapped server error, got %v", err)
	}
}
