package ucontext

import (
	"context"
	"testing"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultLogger = logrus.NewEntry(logrus.New()).WithField("foo", "bar")

func TestNew(t *testing.T) {
	ctx := New(context.Background(), defaultLogger)
	require.Equal(t, defaultLogger, ctx.Log)
	require.Equal(t, context.Background(), ctx.Context)
}

func TestBackground(t *testing.T) {
	ctx := Background()
	require.Equal(t, ctx.Context, context.Background())
	require.NotNil(t, ctx.Log)
}

func TestFromContext_ExtractsStoredLogger(t *testing.T) {
	goCtx := ctxlogrus.ToContext(context.Background(), defaultLogger)
	ctx := FromContext(goCtx)
	assert.Equal(t, "bar", ctx.Log.Data["foo"])
}

func TestWithLogField(t *testing.T) {
	ctx := WithLogField(Background(), "fish", "chips")
	require.Equal(t, context.Background(), ctx.Context)
	require.Equal(t, logrus.Fields{"fish": "chips"}, ctx.Log.Data)
}

func TestWithLogFields(t *testing.T) {
	ctx := WithLogFields(Background(), logrus.Fields{"fish": "chips", "salt": "pepper"})
	require.Equal(t, logrus.Fields{"fish": "chips", "salt": "pepper"}, ctx.Log.Data)
}

func TestWithJob(t *testing.T) {
	ctx := WithJob(Background(), "42", "j-42", "")
	assert.Equal(t, logrus.Fields{"jobId": "42", "jobName": "j-42"}, ctx.Log.Data)
}

func TestWithCancel_KeepsLogger(t *testing.T) {
	parent := WithLogField(Background(), "job", "42")
	ctx, cancel := WithCancel(parent)
	cancel()
	<-ctx.Done()
	assert.Equal(t, "42", ctx.Log.Data["job"])
}

func TestErrGroup(t *testing.T) {
	g, ctx := ErrGroup(Background())
	g.Go(func() error { return nil })
	require.NoError(t, g.Wait())
	require.NotNil(t, ctx.Log)
}
