// Package retry runs an operation again after transient failures, backing
// off exponentially between attempts.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it immediately instead of retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do invokes fn until it succeeds, up to maxAttempts times. The wait before
// each retry starts at baseDelay and doubles, with +-25% jitter so callers
// that fail together do not retry in lockstep. Do returns early when fn
// succeeds, when fn reports a *PermanentError, or when ctx is cancelled
// during a backoff wait.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		if attempt == maxAttempts {
			break
		}

		wait := jittered(baseDelay << (attempt - 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return lastErr
}

// jittered spreads d across [0.75d, 1.25d].
func jittered(d time.Duration) time.Duration {
	spread := d / 2
	if spread <= 0 {
		return d
	}
	return d - spread/2 + time.Duration(randInt64n(int64(spread)+1))
}

// randInt64n returns a uniform-ish random int64 in [0, n) from crypto/rand.
func randInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.BigEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n))
}
