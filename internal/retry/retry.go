// Package retry runs operations against backing services with exponential
// backoff on transient errors.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/logging"
)

// Executor retries transient failures of an operation. Errors are returned
// as *logging.OperationError.
type Executor struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *zap.Logger
	// Final marks errors that are an answer rather than a failure (a cache
	// miss, a missing row). They are returned without retry or logging.
	Final func(error) bool
}

// New returns an executor with three attempts starting at 50ms.
func New(logger *zap.Logger, final func(error) bool) *Executor {
	return &Executor{
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Logger:         logger,
		Final:          final,
	}
}

// Run calls fn until it succeeds, fails permanently or attempts run out.
func (e *Executor) Run(ctx context.Context, operation, requestID string, fn func() error, fields ...zap.Field) error {
	opLogger := logging.WithOperation(e.Logger, operation, requestID).With(fields...)
	backoff := e.InitialBackoff
	var err error
	for attempt := 0; attempt < e.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= e.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if e.Final != nil && e.Final(err) {
			return logging.NewOperationError(operation, requestID, err)
		}
		if !IsTransient(err) || attempt == e.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransient reports timeouts and temporary network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
