// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingService runs until cancelled, failing its first failures starts.
type countingService struct {
	name     string
	failures int32
	starts   atomic.Int32
}

func (s *countingService) Serve(ctx context.Context) error {
	if s.starts.Add(1) <= s.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

func waitForStarts(t *testing.T, svc *countingService, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("%s started %d times, want >= %d", svc.name, svc.starts.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTreeDefaults(t *testing.T) {
	t.Parallel()

	tree := NewTree(quietLogger(), TreeConfig{})
	want := DefaultTreeConfig()
	if tree.config != want {
		t.Errorf("config = %+v, want %+v", tree.config, want)
	}
	if len(tree.layers) != 3 {
		t.Errorf("layers = %d, want 3", len(tree.layers))
	}
}

func TestTreeStartsEveryLayer(t *testing.T) {
	t.Parallel()

	tree := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	svcs := map[Layer]*countingService{
		LayerStorage:  {name: "storage"},
		LayerPipeline: {name: "pipeline"},
		LayerAPI:      {name: "api"},
	}
	for layer, svc := range svcs {
		if _, err := tree.Add(layer, svc); err != nil {
			t.Fatalf("Add(%s) error = %v", layer, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range svcs {
		waitForStarts(t, svc, 1)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree stopped with %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeUnknownLayer(t *testing.T) {
	t.Parallel()

	tree := NewTree(quietLogger(), TreeConfig{})
	if _, err := tree.Add("metrics-layer", &countingService{name: "x"}); err == nil {
		t.Error("Add() to unknown layer should fail")
	}
	if err := tree.Remove("metrics-layer", suture.ServiceToken{}); err == nil {
		t.Error("Remove() from unknown layer should fail")
	}
}

func TestTreeRestartsFailingServiceInIsolation(t *testing.T) {
	t.Parallel()

	tree := NewTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	failing := &countingService{name: "consumer", failures: 2}
	stable := &countingService{name: "ops-api"}
	if _, err := tree.Add(LayerPipeline, failing); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Add(LayerAPI, stable); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitForStarts(t, failing, 3)
	if got := stable.starts.Load(); got != 1 {
		t.Errorf("stable service started %d times, want 1", got)
	}

	cancel()
	<-errCh
}

func TestTreeTerminatesOnRequest(t *testing.T) {
	t.Parallel()

	tree := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	terminator := suture.Service(serviceFunc(func(context.Context) error {
		return suture.ErrTerminateSupervisorTree
	}))
	if _, err := tree.Add(LayerStorage, terminator); err != nil {
		t.Fatal(err)
	}

	select {
	case <-tree.ServeBackground(context.Background()):
	case <-time.After(3 * time.Second):
		t.Fatal("tree kept running after ErrTerminateSupervisorTree")
	}
}

type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }
