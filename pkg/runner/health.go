package runner

import (
	"errors"

	"github.com/armadaproject/botrunner/internal/common/health"
)

// ErrNotRunning is returned by a RunnerChecker's Check when the wrapped
// Runner has stopped.
var ErrNotRunning = errors.New("runner: not running")

// RunnerChecker adapts a Runner into a health.Checker: healthy iff the
// Runner is currently running.
type RunnerChecker struct {
	runner *Runner
}

// NewChecker wraps runner as a health.Checker.
func NewChecker(runner *Runner) *RunnerChecker {
	return &RunnerChecker{runner: runner}
}

func (c *RunnerChecker) Check() error {
	if !c.runner.IsRunning() {
		return ErrNotRunning
	}
	return nil
}

var _ health.Checker = (*RunnerChecker)(nil)
