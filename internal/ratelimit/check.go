package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harrylevesque/memberhub/internal/utils"
)

// ExceededError carries how long the caller has to wait.
type ExceededError struct {
	Key   string
	After time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Key, e.After)
}

// RetryAfter is read by the HTTP layer to set the Retry-After header.
func (e *ExceededError) RetryAfter() time.Duration { return e.After }

// Check counts one attempt against every key and fails with a RateLimited
// error if any of them is over its limit. A limiter backend failure is
// logged and the attempt allowed, so a Redis outage does not lock members
// out.
func Check(ctx context.Context, l Limiter, keys ...string) error {
	for _, key := range keys {
		ok, after, err := l.Allow(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			continue
		}
		if !ok {
			utils.SecurityEvent("rate_limited").Str("key", key).Dur("retry_after", after).Msg("too many attempts")
			return utils.Wrap(utils.KindRateLimited, &ExceededError{Key: key, After: after},
				"rate_limited", "too many attempts, try again later")
		}
	}
	return nil
}
