package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds outbound retries.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	ShouldRetry func(error) bool
}

// WithRetry wraps a client with error-only retries. Each failing attempt
// is logged; the last error is returned once attempts are exhausted.
func WithRetry(next Client, cfg RetryConfig, logger *zap.Logger) Client {
	if next == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryClient{next: next, cfg: cfg, logger: logger.Named("retry")}
}

type retryClient struct {
	next   Client
	cfg    RetryConfig
	logger *zap.Logger
}

func (r *retryClient) Send(ctx context.Context, out Outgoing) (MessageRef, error) {
	var ref MessageRef
	err := r.do(ctx, "send", func() error {
		var err error
		ref, err = r.next.Send(ctx, out)
		return err
	})
	return ref, err
}

func (r *retryClient) Edit(ctx context.Context, ref MessageRef, out Outgoing) error {
	return r.do(ctx, "edit", func() error {
		return r.next.Edit(ctx, ref, out)
	})
}

func (r *retryClient) Answer(ctx context.Context, callbackID string, text string) error {
	return r.do(ctx, "answer", func() error {
		return r.next.Answer(ctx, callbackID, text)
	})
}

func (r *retryClient) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attempts := r.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.Warn("Outbound call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		if attempt == attempts || !r.shouldRetry(ctx, err) {
			break
		}
		if r.cfg.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.Backoff * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}

func (r *retryClient) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if r.cfg.ShouldRetry != nil {
		return r.cfg.ShouldRetry(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
