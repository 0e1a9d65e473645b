package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second
	maxJitter           = time.Second
)

var (
	// ErrRateLimited matches the error returned once every attempt was rate limited.
	ErrRateLimited = errors.New("rate limited")
	ErrMaxRetries  = errors.New("exceeded maximum retries for API call")
)

// RateLimitError carries the last rate-limit failure after the attempt ceiling was hit.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string { return e.Err.Error() }

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Caller retries rate-limited remote calls with exponential backoff.
type Caller struct {
	MaxAttempts  int
	InitialDelay time.Duration

	// Sleep and Jitter are swapped out in tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() time.Duration

	log *zap.Logger
}

func New(logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		Sleep:        sleepContext,
		Jitter:       randomJitter,
		log:          logger,
	}
}

// Do runs op until it succeeds, fails with a non rate-limit error, or the
// attempt ceiling is reached. The result is passed through untouched.
func Do[T any](ctx context.Context, c *Caller, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		c = New(nil)
	}

	// The call is always issued at least once.
	attempts := max(c.MaxAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}
		if attempt == attempts {
			c.log.Error("rate limit persisted after all attempts",
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return zero, &RateLimitError{Attempts: attempt, Err: err}
		}

		delay := c.Delay(attempt)
		c.log.Warn("rate limit exceeded, retrying",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
		)
		if err := c.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, ErrMaxRetries
}

// Delay is initialDelay * 2^(attempt-1) plus jitter.
func (c *Caller) Delay(attempt int) time.Duration {
	base := c.InitialDelay << (attempt - 1)
	if c.Jitter == nil {
		return base
	}
	return base + c.Jitter()
}

// IsRateLimited reports whether err signals HTTP 429 or resource exhaustion.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == 429 {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter)))
}
