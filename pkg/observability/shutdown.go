package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains HTTP servers and then runs registered shutdown
// functions in registration order
type ShutdownManager struct {
	logger          *logrus.Logger
	servers         []*http.Server
	shutdownFuncs   []namedShutdown
	shutdownTimeout time.Duration
	mu              sync.Mutex
	once            sync.Once
	err             error
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *logrus.Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		servers:         servers,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc registers fn under name. Nil functions are ignored.
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdown{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown runs the shutdown sequence once; later calls return the first result
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		sm.err = sm.shutdown()
	})
	return sm.err
}

func (sm *ShutdownManager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range sm.servers {
		if err := srv.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("server %s: %w", srv.Addr, err))
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdown(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	for _, f := range funcs {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", f.name))
			break
		}
		log := sm.logger.WithField("component", f.name)
		if err := f.fn(ctx); err != nil {
			log.WithError(err).Error("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		log.Debug("shutdown step complete")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}
