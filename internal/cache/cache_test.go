package cache

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache() (*Cache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewWithClock[string](clock.Now), clock
}

func TestCache_SetGetExpires(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache()
	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get() = %q, %v; want %q, true", got, ok, "v")
	}

	clock.Advance(time.Minute + time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to be expired")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after stale read", c.Len())
	}
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to stay absent on second read")
	}
}

func TestCache_ExpiresExactlyAtDeadline(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache()
	c.Set("k", "v", time.Minute)
	clock.Advance(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to be expired at its deadline")
	}
}

func TestCache_NoTTLNeverExpires(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache()
	c.Set("k", "v", 0)
	clock.Advance(10 * 365 * 24 * time.Hour)

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get() = %q, %v; want %q, true", got, ok, "v")
	}
}

func TestCache_SetOverwrites(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache()
	c.Set("k", "old", time.Second)
	c.Set("k", "new", 0)
	clock.Advance(time.Hour)

	got, ok := c.Get("k")
	if !ok || got != "new" {
		t.Fatalf("Get() = %q, %v; want %q, true", got, ok, "new")
	}
}

func TestCache_GetOrComputeCallsProducerOnce(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	calls := 0
	producer := func() (string, error) {
		calls++
		return "computed", nil
	}

	first, err := c.GetOrCompute("k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	second, err := c.GetOrCompute("k", time.Minute, producer)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if first != "computed" || second != "computed" {
		t.Fatalf("values = %q, %q", first, second)
	}
	if calls != 1 {
		t.Fatalf("producer calls = %d, want 1", calls)
	}
}

func TestCache_GetOrComputeRecomputesAfterExpiry(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache()
	calls := 0
	producer := func() (string, error) {
		calls++
		return "computed", nil
	}

	if _, err := c.GetOrCompute("k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := c.GetOrCompute("k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("producer calls = %d, want 2", calls)
	}
}

func TestCache_GetOrComputeDoesNotStoreErrors(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	boom := errors.New("boom")
	if _, err := c.GetOrCompute("k", time.Minute, func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrCompute() error = %v, want %v", err, boom)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after failed producer", c.Len())
	}

	got, err := c.GetOrCompute("k", time.Minute, func() (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("GetOrCompute() = %q, %v", got, err)
	}
}

func TestCache_Delete(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	c.Set("k", "v", 0)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to be deleted")
	}
}
