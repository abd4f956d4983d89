// Package shutdown stops a set of coordination components in a fixed
// order with a deadline. Typical order: health monitor first (no new
// reconnects), then the task coordinator, then the bus, then the
// directory and archive.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/swarmlink/swarmlink/logging"
)

// Common errors.
var (
	// ErrTimeout indicates shutdown did not complete within the deadline.
	ErrTimeout = errors.New("shutdown deadline exceeded")

	// ErrStopFailed indicates one or more stop functions failed.
	ErrStopFailed = errors.New("one or more components failed to stop")
)

// StopFunc stops one component. The context is cancelled when the
// shutdown deadline passes.
type StopFunc func(ctx context.Context) error

// Coordinator runs registered stop functions in registration order.
// Stop is idempotent: the first call does the work, later calls return
// the first call's result.
type Coordinator struct {
	logger *logging.Logger

	mu    sync.Mutex
	stops []namedStop

	once    sync.Once
	stopErr error
	done    chan struct{}
}

type namedStop struct {
	name string
	fn   StopFunc
}

// New creates a shutdown coordinator. A nil logger disables logging.
func New(logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		logger: logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a named stop function. Registration order is stop order.
func (c *Coordinator) Register(name string, fn StopFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops = append(c.stops, namedStop{name: name, fn: fn})
}

// Stop runs every registered stop function in order. It keeps going past
// individual failures and reports them together at the end. A context
// cancellation stops the walk and returns ErrTimeout.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.once.Do(func() {
		c.stopErr = c.run(ctx)
		close(c.done)
	})
	return c.stopErr
}

// StopWithTimeout is Stop with a deadline.
func (c *Coordinator) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Stop(ctx)
}

// Done returns a channel closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown result. Only meaningful after Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.stopErr
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	stops := make([]namedStop, len(c.stops))
	copy(stops, c.stops)
	c.mu.Unlock()

	var failed []string
	for _, s := range stops {
		select {
		case <-ctx.Done():
			c.logger.Warn("shutdown_deadline", map[string]interface{}{
				"pending": s.name,
			})
			return ErrTimeout
		default:
		}

		started := time.Now()
		if err := s.fn(ctx); err != nil {
			failed = append(failed, s.name)
			c.logger.Error("component_stop_failed", map[string]interface{}{
				"component": s.name,
				"error":     err.Error(),
			})
			continue
		}
		c.logger.Info("component_stopped", map[string]interface{}{
			"component": s.name,
			"took":      time.Since(started).String(),
		})
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", ErrStopFailed, failed)
	}
	return nil
}
