package graph

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// backoff is a bounded exponential retry schedule.
type backoff struct {
	retries int
	base    time.Duration
	max     time.Duration
}

func newBackoff(retries int, base time.Duration) backoff {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return backoff{retries: retries, base: base, max: 16 * base}
}

// delay is the wait before retry number attempt (1-based).
func (b backoff) delay(attempt int) time.Duration {
	d := b.base
	for i := 1; i < attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
