package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// completionPoll is the cadence at which a streaming output pane is read
// while waiting for a long action to finish.
const completionPoll = 2 * time.Second

// WaitForCompletion polls a streaming output pane until a completion
// marker appears AND the pane content is byte-identical across two
// consecutive polls. The stability guard protects against matching a
// marker inside a partially streamed line. Returns the final pane text,
// or ErrPostActionTimeout when the window elapses.
func WaitForCompletion(ctx context.Context, read func(context.Context) (string, error), markers []string, timeout time.Duration) (string, error) {
	return waitForCompletion(ctx, read, markers, timeout, completionPoll)
}

func waitForCompletion(ctx context.Context, read func(context.Context) (string, error), markers []string, timeout time.Duration, poll time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var previous string
	havePrevious := false

	for {
		text, err := read(ctx)
		if err == nil && containsMarker(text, markers) {
			if havePrevious && text == previous {
				return text, nil
			}
			previous = text
			havePrevious = true
		} else {
			havePrevious = false
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no stable completion marker within %s", ErrPostActionTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(poll):
		}
	}
}

func containsMarker(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
