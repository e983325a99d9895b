package logctx

import (
	"context"
	"testing"
	"time"

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
	require.Equal(t, context.Background(), ctx.Context)
	require.NotNil(t, ctx.Log)
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

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(Background(), 50*time.Millisecond)
	defer cancel()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled after its timeout")
	}
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestDetach_SurvivesParentCancellation(t *testing.T) {
	parent, cancel := WithCancel(WithLogField(Background(), "batch", 7))
	detached := Detach(parent)
	cancel()

	<-parent.Done()
	assert.NoError(t, detached.Err())
	assert.Equal(t, parent.Log, detached.Log)
}

func TestErrGroup(t *testing.T) {
	g, ctx := ErrGroup(WithLogField(Background(), "k", "v"))
	g.Go(func() error { return nil })
	require.NoError(t, g.Wait())
	assert.Equal(t, logrus.Fields{"k": "v"}, ctx.Log.Data)
}
