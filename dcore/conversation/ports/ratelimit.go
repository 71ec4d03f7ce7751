package convports

import "context"

// RateLimiter bounds generator call throughput across conversations.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
