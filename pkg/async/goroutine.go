package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/platinummonkey/bastion/pkg/observability"
)

// Group runs long-lived background tasks that share one context.
//
// Each task gets panic recovery and error logging. Stop cancels the shared
// context and waits for every task to return, so it can be registered
// directly as a shutdown step.
//
// Example:
//
//	g := async.NewGroup(ctx, logger)
//	g.Go("seed watcher", func(ctx context.Context) error {
//	    return service.WatchSeedFile(ctx, path, debounce, nil)
//	})
//	defer g.Stop(context.Background())
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *observability.Logger
	wg     sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewGroup creates a group whose tasks stop when parent is cancelled or
// Stop is called
func NewGroup(parent context.Context, logger *observability.Logger) *Group {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn in a goroutine. A panic or an error other than context
// cancellation is logged and kept for Err.
func (g *Group) Go(name string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.WithFields(map[string]interface{}{
					"task":  name,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("Background task panicked")
				g.record(fmt.Errorf("%s: panic: %v", name, r))
			}
		}()

		if err := fn(g.ctx); err != nil && !errors.Is(err, context.Canceled) {
			g.logger.WithError(err).WithField("task", name).Error("Background task failed")
			g.record(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (g *Group) record(err error) {
	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}

// Err returns the failures recorded so far, joined
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

// Stop cancels all tasks and waits for them until ctx is done
func (g *Group) Stop(ctx context.Context) error {
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks did not stop: %w", ctx.Err())
	}
}
