package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// retry runs fn up to retries+1 times, waiting attempt*backoff between
// attempts. Only errors domain.Retryable accepts are retried.
func retry(ctx context.Context, retries int, backoff time.Duration, logger *zap.Logger, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || attempt >= retries || !domain.Retryable(err) {
			return err
		}

		wait := time.Duration(attempt+1) * backoff
		logger.Warn("capture failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}
