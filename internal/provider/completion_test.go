package provider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForCompletionStabilityGuard(t *testing.T) {
	// The marker appears while the pane is still streaming; completion
	// must wait for two identical consecutive reads.
	var calls atomic.Int32
	read := func(context.Context) (string, error) {
		switch calls.Add(1) {
		case 1:
			return "booting", nil
		case 2:
			return "App is runn", nil
		case 3:
			return "App is running\npartial li", nil
		default:
			return "App is running\npartial line done", nil
		}
	}

	text, err := waitForCompletion(context.Background(), read, []string{"App is running"}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "App is running\npartial line done", text)
	assert.GreaterOrEqual(t, calls.Load(), int32(5))
}

func TestWaitForCompletionTimeout(t *testing.T) {
	read := func(context.Context) (string, error) {
		return "still booting", nil
	}

	_, err := waitForCompletion(context.Background(), read, []string{"running"}, 20*time.Millisecond, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPostActionTimeout)
}

func TestWaitForCompletionContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	read := func(context.Context) (string, error) {
		return "still booting", nil
	}

	_, err := waitForCompletion(ctx, read, []string{"running"}, time.Second, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}
