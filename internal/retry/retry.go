package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"logrca/internal/fault"
)

const (
	defaultDelay    = 200 * time.Millisecond
	defaultMaxDelay = 2 * time.Second
)

type Config struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func (rc Config) ToRetryOptions(ctx context.Context) []retry.Option {
	attempts := rc.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delay, maxDelay := rc.Delay, rc.MaxDelay
	if delay == 0 {
		delay = defaultDelay
	}
	if maxDelay == 0 {
		maxDelay = defaultMaxDelay
	}
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(maxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return fault.Is(err, fault.KindNetwork)
		}),
	}
}

// Network runs fn until it succeeds, fails with a non-network error, or the
// attempts are used up.
func Network[T any](ctx context.Context, rc Config, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn, rc.ToRetryOptions(ctx)...)
}
