package services

import (
	"context"
	"errors"
	"time"

	"donation-workflow-api/workflow"
)

// retryPersist runs fn up to attempts times, sleeping backoff*n between
// tries, while fn fails with workflow.ErrPersist. Any other error returns
// immediately. onRetry is called before each extra attempt.
func retryPersist(ctx context.Context, attempts int, backoff time.Duration, onRetry func(attempt int, err error), fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, workflow.ErrPersist) {
			return err
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return err
}
