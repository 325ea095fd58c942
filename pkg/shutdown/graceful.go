package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
)

// exit is replaced in tests.
var exit = os.Exit

// Handler manages graceful shutdown of the application
type Handler struct {
	shutdownFuncs []func() error
	mu            sync.Mutex
	once          sync.Once
	done          chan struct{}
	logger        *logger.Logger
}

// NewHandler creates a new graceful shutdown handler
func NewHandler(log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		shutdownFuncs: make([]func() error, 0),
		done:          make(chan struct{}),
		logger:        log.WithComponent("shutdown"),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (h *Handler) RegisterShutdownFunc(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownFuncs = append(h.shutdownFuncs, fn)
}

// Watch returns a context cancelled on SIGINT or SIGTERM so running scans
// can stop at their next request and still report. If the process has not
// shut down within grace of the first signal, or a second signal arrives, it
// exits with status 1.
func (h *Handler) Watch(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			h.logger.Infow("Received signal, stopping scans", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case sig := <-sigChan:
			h.logger.Warnw("Second signal received, exiting immediately", "signal", sig.String())
			exit(1)
		case <-timer.C:
			h.logger.Errorw("Graceful shutdown timed out, forcing exit", "grace", grace.String())
			exit(1)
		case <-h.done:
		}
	}()

	return ctx, cancel
}

// Shutdown executes all registered shutdown functions once, newest first
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.mu.Lock()
		funcs := append([]func() error(nil), h.shutdownFuncs...)
		h.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				h.logger.Errorw("Error during shutdown", "error", err)
			}
		}
		close(h.done)
	})
}

// Done returns a channel that's closed when shutdown is complete
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// ShutdownWithTimeout executes shutdown with a timeout
func (h *Handler) ShutdownWithTimeout(timeout time.Duration) error {
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		h.Shutdown()
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
