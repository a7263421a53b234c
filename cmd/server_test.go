package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 确保收到取消信号时会触发服务器优雅关闭。
func TestRunServer_ShutdownOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &stubCancelScheduler{}
	srv := newStubServer()

	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, srv, sched, 500*time.Millisecond, nil)
	}()

	srv.waitStarted(t)
	cancel()
	srv.waitShutdown(t)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runServer did not return after cancel")
	}
	require.EqualValues(t, 1, sched.canceled.Load(), "scheduler did not observe context cancellation")
}

// 监听失败时返回错误并停止调度。
func TestRunServer_ListenError(t *testing.T) {
	t.Parallel()

	sched := &stubCancelScheduler{}
	srv := &failingServer{err: errors.New("address in use")}

	err := runServer(context.Background(), srv, sched, time.Second, nil)
	require.ErrorContains(t, err, "address in use")
	require.EqualValues(t, 1, sched.canceled.Load())
}

// --- stubs ---

type stubServer struct {
	started        chan struct{}
	shutdownCalled chan struct{}
	closed         atomic.Bool
}

func newStubServer() *stubServer {
	return &stubServer{
		started:        make(chan struct{}),
		shutdownCalled: make(chan struct{}),
	}
}

func (s *stubServer) ListenAndServe() error {
	close(s.started)
	<-s.shutdownCalled
	return http.ErrServerClosed
}

func (s *stubServer) Shutdown(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.shutdownCalled)
	return nil
}

func (s *stubServer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}
}

func (s *stubServer) waitShutdown(t *testing.T) {
	t.Helper()
	select {
	case <-s.shutdownCalled:
	case <-time.After(time.Second):
		t.Fatal("server shutdown was not called")
	}
}

type failingServer struct {
	err error
}

func (s *failingServer) ListenAndServe() error          { return s.err }
func (s *failingServer) Shutdown(context.Context) error { return nil }

type stubCancelScheduler struct {
	canceled atomic.Int32
}

func (s *stubCancelScheduler) Start(ctx context.Context) error {
	<-ctx.Done()
	s.canceled.Add(1)
	return ctx.Err()
}
