// Package runnercontext provides a context type that carries a structured
// logger alongside the usual cancellation/deadline machinery, so that every
// blocking call in the runner's concurrency engine can log with the right
// fields without threading a separate logger argument everywhere.
package runnercontext

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Context extends context.Context with a contextual logger.
type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background returns an empty Context with a default logger.
func Background() *Context {
	return &Context{
		Context: context.Background(),
		Log:     logrus.NewEntry(logrus.New()),
	}
}

// New wraps an existing context.Context and logger into a Context.
func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{Context: ctx, Log: log}
}

// WithCancel is analogous to context.WithCancel.
func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	c, cancel := context.WithCancel(parent.Context)
	return &Context{Context: c, Log: parent.Log}, cancel
}

// WithDeadline is analogous to context.WithDeadline.
func WithDeadline(parent *Context, d time.Time) (*Context, context.CancelFunc) {
	c, cancel := context.WithDeadline(parent.Context, d)
	return &Context{Context: c, Log: parent.Log}, cancel
}

// WithTimeout is WithDeadline(parent, time.Now().Add(timeout)).
func WithTimeout(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	return WithDeadline(parent, time.Now().Add(timeout))
}

// WithLogField returns a copy of parent with key/val added to the logger.
func WithLogField(parent *Context, key string, val interface{}) *Context {
	return &Context{Context: parent.Context, Log: parent.Log.WithField(key, val)}
}

// WithLogFields returns a copy of parent with fields added to the logger.
func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return &Context{Context: parent.Context, Log: parent.Log.WithFields(fields)}
}

// ErrGroup returns a new errgroup.Group and an associated Context, analogous
// to errgroup.WithContext.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, goctx := errgroup.WithContext(ctx.Context)
	return group, &Context{Context: goctx, Log: ctx.Log}
}
