// Package event coordinates graceful shutdown across independently
// initialized subsystems (listeners, database connections, the logger).
package event

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/collabrelay/broker/internal/logger"
)

// Callable is anything that can be told to release its resources.
type Callable interface {
	Invoke(ctx context.Context) error
}

// Cleaner collects Callables registered during startup and runs them, in
// registration order, once SIGINT or SIGTERM arrives.
type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	initOnce       sync.Once
	cleaning       bool
	loggerShutdown Callable
}

var cleanerInstance = &Cleaner{}

// NewCleaner returns the process-wide cleaner singleton.
func NewCleaner() *Cleaner {
	return cleanerInstance
}

// Add registers callable for invocation at shutdown. Calls after shutdown
// has begun are silently dropped.
func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("cleaner already shutting down, ignoring new registration")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Init arms the interrupt handler. loggerShutdown is invoked last so
// every other cleaner's log lines are flushed first.
func (c *Cleaner) Init(loggerShutdown Callable) {
	c.initOnce.Do(func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		c.loggerShutdown = loggerShutdown

		go func() {
			<-ctx.Done()
			stop()
			logger.Info("received interrupt signal, shutting down")

			c.mu.Lock()
			c.cleaning = true
			cleanersCopy := make([]Callable, len(c.cleaners))
			copy(cleanersCopy, c.cleaners)
			c.mu.Unlock()

			logger.DebugF("starting cleanup of %d registered components", len(cleanersCopy))

			var errs []error
			for i, callable := range cleanersCopy {
				func(idx int, cc Callable) {
					logger.DebugF("invoking cleaner #%d (%T)", idx+1, cc)
					timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := cc.Invoke(timeoutCtx); err != nil {
						logger.ErrorF("cleaner #%d (%T) failed: %v", idx+1, cc, err)
						errs = append(errs, err)
					}
				}(i, callable)
			}

			if len(errs) > 0 {
				logger.ErrorF("%d errors occurred during cleanup", len(errs))
			} else {
				logger.Debug("all cleaners executed successfully")
			}
			logger.Info("cleanup finished, broker offline")

			if c.loggerShutdown != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
					fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
				}
			}
			syscall.Exit(0)
		}()
	})
}
