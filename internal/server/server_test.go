package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestServer_StartStop(t *testing.T) {
	s := New("test", "127.0.0.1:0", okHandler(), discardLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want %q", body, "ok")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// The socket is released once Stop returns.
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		t.Fatalf("port still bound after Stop: %v", err)
	}
	_ = ln.Close()
}

func TestServer_StopBeforeStart(t *testing.T) {
	s := New("test", "127.0.0.1:0", okHandler(), discardLogger())
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Start error = %v, want nil", err)
	}
}

func TestServer_DoubleStop(t *testing.T) {
	s := New("test", "127.0.0.1:0", okHandler(), discardLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
}

func TestServer_DoubleStart(t *testing.T) {
	s := New("test", "127.0.0.1:0", okHandler(), discardLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestServer_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	s := New("test", ln.Addr().String(), okHandler(), discardLogger())
	if err := s.Start(context.Background()); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("Start() on a bound port expected error, got nil")
	}
	// A failed Start leaves nothing to stop.
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after failed Start error = %v, want nil", err)
	}
}

func TestServer_StopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte("late"))
	})

	s := New("test", "127.0.0.1:0", h, discardLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	result := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + s.Addr() + "/")
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(resp.Body)
		result <- string(b)
	}()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop() returned %v before in-flight request finished", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	if got := <-result; got != "late" {
		t.Errorf("in-flight response = %q, want %q", got, "late")
	}
	if err := <-stopped; err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestServer_StopDeadlineClosesConnections(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	s := New("test", "127.0.0.1:0", h, discardLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	clientDone := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + s.Addr() + "/")
		if err == nil {
			_ = resp.Body.Close()
		}
		clientDone <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() error = %v, want context.DeadlineExceeded", err)
	}

	// The stuck connection was closed rather than left to the handler.
	select {
	case err := <-clientDone:
		if err == nil {
			t.Error("in-flight request completed, want it cut off")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight connection still open after Stop")
	}

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		t.Fatalf("port still bound after Stop: %v", err)
	}
	_ = ln.Close()

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
}
