package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"salespipeline_backend/platform/logger"
)

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), logger.Discard(), "op", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on the third call, got %v after %d", err, calls)
	}
}

func TestWithRetryReportsLastError(t *testing.T) {
	err := WithRetry(context.Background(), logger.Discard(), "database connection", 2, time.Millisecond, func() error {
		return errors.New("connection refused")
	})
	if err == nil || err.Error() != "database connection: connection refused" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetry(ctx, logger.Discard(), "op", 5, time.Second, func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("expected cancellation before the first call, got %v after %d", err, calls)
	}
}

func TestWithRetryRejectsZeroAttempts(t *testing.T) {
	if err := WithRetry(context.Background(), logger.Discard(), "op", 0, time.Millisecond, func() error { return nil }); err == nil {
		t.Fatalf("expected an error")
	}
}
