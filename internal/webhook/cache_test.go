package webhook

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	calls atomic.Int64
	err   error
}

func (s *countingSource) ProjectConfig(_ context.Context, projectID int64) (*ProjectConfig, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &ProjectConfig{
		ProjectID:      projectID,
		MaxConnections: 10,
		Webhooks:       []SimpleWebhook{{URL: "https://example.com", Secret: "s"}},
	}, nil
}

func TestCacheHitsWithinTTL(t *testing.T) {
	source := &countingSource{}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		cfg, err := cache.ProjectConfig(ctx, 42)
		if err != nil {
			t.Fatalf("ProjectConfig() failed: %v", err)
		}
		if cfg.ProjectID != 42 || len(cfg.Webhooks) != 1 {
			t.Fatalf("cfg = %+v", cfg)
		}
	}

	if n := source.calls.Load(); n != 1 {
		t.Errorf("source hit %d times, want 1", n)
	}
}

func TestCacheIsProjectScoped(t *testing.T) {
	source := &countingSource{}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	ctx := context.Background()
	if _, err := cache.ProjectConfig(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.ProjectConfig(ctx, 2); err != nil {
		t.Fatal(err)
	}

	if n := source.calls.Load(); n != 2 {
		t.Errorf("source hit %d times, want 2", n)
	}
}

func TestCacheExpiry(t *testing.T) {
	source := &countingSource{}
	cache := NewCache(source, 30*time.Millisecond)
	defer cache.Stop()

	ctx := context.Background()
	if _, err := cache.ProjectConfig(ctx, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := cache.ProjectConfig(ctx, 1); err != nil {
		t.Fatal(err)
	}

	if n := source.calls.Load(); n != 2 {
		t.Errorf("source hit %d times after expiry, want 2", n)
	}
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	source := &countingSource{err: errors.New("store down")}
	cache := NewCache(source, time.Minute)
	defer cache.Stop()

	ctx := context.Background()
	if _, err := cache.ProjectConfig(ctx, 1); err == nil {
		t.Fatal("expected error")
	}

	source.err = nil
	if _, err := cache.ProjectConfig(ctx, 1); err != nil {
		t.Fatalf("miss after error did not repopulate: %v", err)
	}
}
