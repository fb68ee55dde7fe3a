package async

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestGo_Success(t *testing.T) {
	ran := false
	wait(t, Go(context.Background(), time.Second, "success", observability.NewNopLogger(), func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestGo_LogsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	wait(t, Go(context.Background(), time.Second, "grant statistics", logger, func(ctx context.Context) error {
		return errors.New("store offline")
	}))
	assert.Contains(t, buf.String(), "store offline")
	assert.Contains(t, buf.String(), "grant statistics")
}

func TestGo_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	wait(t, Go(context.Background(), time.Second, "panicking task", logger, func(ctx context.Context) error {
		panic("boom")
	}))
	assert.Contains(t, buf.String(), "boom")
}

func TestGo_Timeout(t *testing.T) {
	var deadline error
	wait(t, Go(context.Background(), 20*time.Millisecond, "slow", observability.NewNopLogger(), func(ctx context.Context) error {
		<-ctx.Done()
		deadline = ctx.Err()
		return deadline
	}))
	require.Error(t, deadline)
	assert.ErrorIs(t, deadline, context.DeadlineExceeded)
}
