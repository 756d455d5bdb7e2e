package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestServer_RunStopsWorkersThenHooksInReverse(t *testing.T) {
	srv := New(http.NotFoundHandler(), Options{Port: 0, ShutdownTimeout: 2 * time.Second}, nil)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	started := make(chan struct{})
	srv.Go("stream", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		record("worker")
		return ctx.Err()
	})
	srv.OnShutdown("database", func(context.Context) error { record("database"); return nil })
	srv.OnShutdown("publisher", func(context.Context) error { record("publisher"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- srv.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started")
	}
	cancel()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	if diff := cmp.Diff([]string{"worker", "publisher", "database"}, order); diff != "" {
		t.Errorf("shutdown order mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_HookErrorsAreJoined(t *testing.T) {
	srv := New(http.NotFoundHandler(), Options{Port: 0, ShutdownTimeout: time.Second}, nil)
	boom := errors.New("flush failed")
	srv.OnShutdown("cache", func(context.Context) error { return boom })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := srv.Run(ctx); !errors.Is(err, boom) {
		t.Errorf("expected hook error, got %v", err)
	}
}

func TestServer_WorkerErrorIsReported(t *testing.T) {
	srv := New(http.NotFoundHandler(), Options{Port: 0, ShutdownTimeout: time.Second}, nil)
	boom := errors.New("consumer group missing")
	srv.Go("usage", func(ctx context.Context) error {
		<-ctx.Done()
		return boom
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := srv.Run(ctx); !errors.Is(err, boom) {
		t.Errorf("expected worker error, got %v", err)
	}
}
