package ucontext

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/logging"
)

// Context is a context.Context which also carries a logger. Every blocking call in the job manager takes one of
// these so that log lines emitted deep inside a plugin still carry the job and leader fields of the caller.
type Context struct {
	context.Context
	Log *logrus.Entry
}

// Background is the root of the contexts used by tests and by the service before its own logger is configured.
// It logs through the standard logger.
func Background() *Context {
	return New(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}

// FromContext wraps a context handed to us by a library callback. A logger placed in ctx with ctxlogrus is kept,
// otherwise log lines are discarded.
func FromContext(ctx context.Context) *Context {
	return New(ctx, ctxlogrus.Extract(ctx))
}

func New(ctx context.Context, log *logrus.Entry) *Context {
	return &Context{
		Context: ctx,
		Log:     log,
	}
}

// WithCancel derives a context which is cancelled with the returned function or with parent.
// Leadership terms use it to stop every stream of the term at once.
func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	c, cancel := context.WithCancel(parent.Context)
	return New(c, parent.Log), cancel
}

// WithLogField adds a single field to every line logged through the returned context.
func WithLogField(parent *Context, key string, val interface{}) *Context {
	return New(parent.Context, parent.Log.WithField(key, val))
}

func WithLogFields(parent *Context, fields logrus.Fields) *Context {
	return New(parent.Context, parent.Log.WithFields(fields))
}

// WithJob tags log lines with the job being handled. name and namespace are those of the volcano job and may be
// empty before it exists.
func WithJob(parent *Context, jobId string, name string, namespace string) *Context {
	return WithLogFields(parent, logging.JobFields(jobId, name, namespace))
}

// ErrGroup runs the long-lived loops of the service. The returned context is cancelled as soon as one of them
// fails.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, goctx := errgroup.WithContext(ctx)
	return group, New(goctx, ctx.Log)
}
