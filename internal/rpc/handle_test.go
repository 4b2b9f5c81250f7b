package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neostackide/idecore/internal/common/logger"
)

type cmd struct{ n int }
type resp struct{ n int }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestCallBlocking_DeliveredByWorker(t *testing.T) {
	h := New[cmd, resp](testLogger(t), 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		env, ok := h.Next()
		require.True(t, ok)
		require.True(t, env.HasID)
		h.Deliver(env.ID, resp{n: env.Cmd.n * 2}, nil)
	}()

	got, err := h.CallBlocking(context.Background(), cmd{n: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, got.n)
	<-done
}

func TestCallBlocking_ContextCancelled(t *testing.T) {
	h := New[cmd, resp](testLogger(t), 1)

	// Fill the buffer so the second call can't enqueue before ctx expires.
	h.commands <- envelope[cmd]{cmd: cmd{n: 1}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.CallBlocking(ctx, cmd{n: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeliver_UnknownID_DoesNotPanic(t *testing.T) {
	h := New[cmd, resp](testLogger(t), 1)
	assert.NotPanics(t, func() {
		h.Deliver(RequestID(999), resp{}, nil)
	})
}

func TestCallAsync_ExactlyOnceDelivery(t *testing.T) {
	h := New[cmd, resp](testLogger(t), 4)

	results := make(chan Result[resp], 1)
	id := h.CallAsync(cmd{n: 1}, func(r Result[resp]) { results <- r })

	env, ok := h.Next()
	require.True(t, ok)
	require.Equal(t, id, env.ID)

	h.Deliver(env.ID, resp{n: 7}, nil)
	// A second Deliver for the same id must be a silent no-op (idempotent).
	h.Deliver(env.ID, resp{n: 99}, nil)

	r := <-results
	require.NoError(t, r.Err)
	assert.Equal(t, 7, r.Value.n)
}

func TestShutdown_DrainPendingCompletesWithErrClosed(t *testing.T) {
	h := New[cmd, resp](testLogger(t), 4)

	results := make(chan Result[resp], 1)
	h.CallAsync(cmd{n: 1}, func(r Result[resp]) { results <- r })

	h.Shutdown()
	env, ok := h.Next()
	require.True(t, ok)
	require.True(t, env.Shutdown)

	h.DrainPending()

	r := <-results
	assert.ErrorIs(t, r.Err, ErrClosed)
}

func TestSendAsync_NoReplyExpected(t *testing.T) {
	h := New[cmd, resp](testLogger(t), 1)
	h.SendAsync(cmd{n: 5})

	env, ok := h.Next()
	require.True(t, ok)
	assert.False(t, env.HasID)
	assert.Equal(t, 5, env.Cmd.n)
}
