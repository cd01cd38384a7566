package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/abtreece/propsort/pkg/log"
)

// ShutdownManager stops the process in order: wait for an in-flight sync,
// stop the metrics server, close the source.
type ShutdownManager struct {
	timeout       time.Duration
	metricsServer *http.Server
	source        any
	inFlight      *sync.WaitGroup
}

// NewShutdownManager returns a ShutdownManager. metricsServer and inFlight
// may be nil. source is closed when it implements io.Closer.
func NewShutdownManager(timeout time.Duration, metricsServer *http.Server, source any, inFlight *sync.WaitGroup) *ShutdownManager {
	return &ShutdownManager{
		timeout:       timeout,
		metricsServer: metricsServer,
		source:        source,
		inFlight:      inFlight,
	}
}

// Shutdown runs every phase within the configured timeout. A phase that
// runs out of time is logged and the next phase still runs.
func (s *ShutdownManager) Shutdown(ctx context.Context) error {
	log.Info("Starting graceful shutdown (timeout: %v)", s.timeout)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if s.inFlight != nil {
			s.inFlight.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		log.Debug("In-flight sync finished")
	case <-ctx.Done():
		log.Warning("Shutdown timeout waiting for in-flight sync")
	}

	if s.metricsServer != nil {
		// At most 5s, and never past the shutdown deadline.
		serverCtx, serverCancel := context.WithTimeout(context.WithoutCancel(ctx), min(5*time.Second, remaining(ctx)))
		err := s.metricsServer.Shutdown(serverCtx)
		serverCancel()
		if err != nil {
			log.Warning("Metrics server shutdown error: %v", err)
		}
	}

	if c, ok := s.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close source: %w", err)
		}
	}
	log.Info("Graceful shutdown completed")
	return nil
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 5 * time.Second
	}
	return max(time.Until(deadline), time.Millisecond)
}
