package secrets

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubFetcher struct {
	keys  KeySet
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context) (KeySet, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.keys, nil
}

func TestCacheReusesWithinTTL(t *testing.T) {
	f := &stubFetcher{keys: KeySet{"anthropic": "sk-ant-0123456789abc"}}
	c := NewCache(f, zap.NewNop())

	ctx := context.Background()
	first := c.Get(ctx)
	second := c.Get(ctx)

	if f.calls != 1 {
		t.Fatalf("got %d fetches, want 1", f.calls)
	}
	if first.Get("anthropic") != second.Get("anthropic") {
		t.Error("snapshot changed between calls inside TTL")
	}
}

func TestCacheRefreshesAfterExpiry(t *testing.T) {
	f := &stubFetcher{keys: KeySet{"deepseek": "sk-deep-0123456789"}}
	c := NewCacheTTL(f, time.Nanosecond, zap.NewNop())

	ctx := context.Background()
	c.Get(ctx)
	time.Sleep(time.Millisecond)

	f.keys = KeySet{"deepseek": "sk-deep-fresh-456789"}
	got := c.Get(ctx)

	if f.calls != 2 {
		t.Fatalf("got %d fetches, want 2", f.calls)
	}
	if got.Get("deepseek") != "sk-deep-fresh-456789" {
		t.Errorf("got stale credential %q after refresh", got.Get("deepseek"))
	}
}

func TestCacheFailsSoft(t *testing.T) {
	f := &stubFetcher{err: fmt.Errorf("upstream down")}
	c := NewCache(f, zap.NewNop())

	got := c.Get(context.Background())
	if got == nil {
		t.Fatal("expected empty KeySet, got nil")
	}
	if got.Get("anthropic") != "" {
		t.Errorf("got %q, want empty credential", got.Get("anthropic"))
	}

	// Next call retries since nothing was cached.
	c.Get(context.Background())
	if f.calls != 2 {
		t.Errorf("got %d fetches, want 2 (error results are not cached)", f.calls)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"", false},
		{"short", false},
		{"demo-key", false},
		{"test-key", false},
		{"placeholder", false},
		{"sk-placeholder-abcdef", false},
		{"0123456789", false}, // exactly 10 chars
		{"sk-ant-api03-real-key", true},
		{"sk-or-v1-0123456789ab", true},
	}
	for _, tc := range cases {
		if got := Valid(tc.key); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}
