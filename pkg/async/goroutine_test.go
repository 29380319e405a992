package async

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bastion/pkg/observability"
)

func TestGroup_StopCancelsTasks(t *testing.T) {
	g := NewGroup(context.Background(), nil)

	var stopped atomic.Int32
	for i := 0; i < 3; i++ {
		g.Go("waiter", func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Add(1)
			return ctx.Err()
		})
	}

	require.NoError(t, g.Stop(context.Background()))
	assert.Equal(t, int32(3), stopped.Load())
	assert.NoError(t, g.Err(), "cancellation is not a failure")
}

func TestGroup_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := NewGroup(parent, nil)

	done := make(chan struct{})
	g.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return nil
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not observe parent cancellation")
	}
	require.NoError(t, g.Stop(context.Background()))
}

func TestGroup_ErrorsAndPanics(t *testing.T) {
	var buf bytes.Buffer
	g := NewGroup(context.Background(), observability.NewLogger(observability.DebugLevel, &buf))

	g.Go("failing", func(context.Context) error { return errors.New("boom") })
	g.Go("panicking", func(context.Context) error { panic("kaboom") })

	require.NoError(t, g.Stop(context.Background()))

	err := g.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: boom")
	assert.Contains(t, err.Error(), "panicking: panic: kaboom")
	assert.Contains(t, buf.String(), "Background task failed")
	assert.Contains(t, buf.String(), "Background task panicked")
}

func TestGroup_StopTimeout(t *testing.T) {
	g := NewGroup(context.Background(), nil)

	release := make(chan struct{})
	defer close(release)
	g.Go("stubborn", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
