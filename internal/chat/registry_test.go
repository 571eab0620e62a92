package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brokernomex/strategy-chat/internal/provider"
)

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *atomic.Int32) {
	t.Helper()
	repo := newFakeRepo()
	var builds atomic.Int32
	factory := func(ctx context.Context, userID string) (*Engine, error) {
		builds.Add(1)
		return NewEngine(ctx, userID, repo, provider.NewMock(""), Options{}, nil)
	}
	return NewRegistry(factory, ttl, nil), &builds
}

func TestRegistryBuildsOncePerUser(t *testing.T) {
	r, builds := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	engines := make([]*Engine, 8)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.Get(ctx, "user-1")
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			engines[i] = e
		}(i)
	}
	wg.Wait()

	if n := builds.Load(); n != 1 {
		t.Fatalf("expected one build, got %d", n)
	}
	for _, e := range engines {
		if e != engines[0] {
			t.Fatal("all callers must share one engine")
		}
	}
	if _, err := r.Get(ctx, ""); !errors.Is(err, ErrAuthMissing) {
		t.Fatalf("expected ErrAuthMissing, got %v", err)
	}
}

func TestRegistrySweepEvictsIdleEngines(t *testing.T) {
	r, builds := newTestRegistry(t, time.Minute)
	ctx := context.Background()

	idle, err := r.Get(ctx, "idle-user")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	watched, err := r.Get(ctx, "watched-user")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watched.Subscribe(subCtx)

	if n := r.Sweep(time.Now()); n != 0 {
		t.Fatalf("fresh engines must survive, evicted %d", n)
	}
	if n := r.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, err := idle.SendUtterance(ctx, "hi", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("evicted engine must be closed, got %v", err)
	}

	fresh, err := r.Get(ctx, "idle-user")
	if err != nil {
		t.Fatalf("Get after eviction failed: %v", err)
	}
	if fresh == idle || builds.Load() != 3 {
		t.Fatalf("expected a rebuilt engine, builds=%d", builds.Load())
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 live engines, got %d", r.Len())
	}
}

func TestRegistryRunClosesEnginesOnShutdown(t *testing.T) {
	r, _ := newTestRegistry(t, time.Minute)
	e, err := r.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if r.Len() != 0 {
		t.Fatal("expected registry to be empty after shutdown")
	}
	if err := e.DiscardDraft(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed engine, got %v", err)
	}
}
