package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/trophysync/internal/log"
)

// flakyService fails its first failures runs, then blocks until stopped.
type flakyService struct {
	failures int32
	starts   atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.starts.Add(1) <= f.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeServer struct {
	mu        sync.Mutex
	listenErr error
	stop      chan struct{}
	shutdown  bool
}

func newFakeServer(listenErr error) *fakeServer {
	return &fakeServer{listenErr: listenErr, stop: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	close(s.stop)
	return nil
}

func TestNew_AppliesDefaults(t *testing.T) {
	tree := New(log.NewSlogLogger(), Config{})
	assert.Equal(t, DefaultConfig(), tree.config)
}

func TestTree_RestartsFailingWorker(t *testing.T) {
	tree := New(log.NewSlogLogger(), Config{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	svc := &flakyService{failures: 2}
	tree.AddWorker(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return svc.starts.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestHTTPService_GracefulShutdown(t *testing.T) {
	server := newFakeServer(nil)
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, server.shutdown)
	assert.Equal(t, "http-server", svc.String())
}

func TestHTTPService_ListenFailure(t *testing.T) {
	svc := NewHTTPService(newFakeServer(errors.New("address in use")), 0)
	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}
