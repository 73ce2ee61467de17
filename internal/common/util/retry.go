// Package util holds small dependency-free helpers; its retry helper is
// used by the Redis distributor transport's worker ack.
package util

import (
	"github.com/armadaproject/botrunner/internal/common/runnercontext"
)

// RetryUntilSuccess calls performAction until it returns nil or ctx is
// done, invoking onError between attempts. Used where a failure must never
// be silently dropped but also must never block a caller indefinitely once
// it's torn down (e.g. acking a worker's completion back to its parent).
func RetryUntilSuccess(ctx *runnercontext.Context, performAction func() error, onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := performAction(); err == nil {
				return
			} else {
				onError(err)
			}
		}
	}
}
