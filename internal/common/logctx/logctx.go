// Package logctx couples a context.Context with the logger of the work it scopes. Components log through the
// context they are handed, so batch and file fields added upstream appear on every line logged downstream.
package logctx

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background logs through the standard logrus logger and is never cancelled.
func Background() *Context {
	return New(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{Context: ctx, Log: log}
}

// Detach keeps the logger of parent but drops its cancellation and deadline.
func Detach(parent *Context) *Context {
	return New(context.Background(), parent.Log)
}

func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent.Context)
	return New(ctx, parent.Log), cancel
}

func WithTimeout(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent.Context, timeout)
	return New(ctx, parent.Log), cancel
}

func WithLogField(parent *Context, key string, val interface{}) *Context {
	return New(parent.Context, parent.Log.WithField(key, val))
}

func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return New(parent.Context, parent.Log.WithFields(fields))
}

// ErrGroup is errgroup.WithContext for a Context. Goroutines started on the group share the logger of ctx.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, groupCtx := errgroup.WithContext(ctx)
	return group, New(groupCtx, ctx.Log)
}
