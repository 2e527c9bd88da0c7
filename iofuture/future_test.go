package iofuture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompleteOnceIsIdempotent(t *testing.T) {
	f := New()
	f.Complete(true, nil)
	f.Complete(false, errors.New("too late"))

	assert.True(t, f.IsSuccess())
	assert.Nil(t, f.Cause())
}

func TestAwaitTimeoutExpires(t *testing.T) {
	f := New()
	assert.False(t, f.AwaitTimeout(20*time.Millisecond))
	assert.False(t, f.IsDone())
}

func TestAwaitUnblocksOnComplete(t *testing.T) {
	f := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Complete(false, errors.New("closed"))
	}()

	f.Await()
	assert.True(t, f.IsDone())
	assert.False(t, f.IsSuccess())
	assert.EqualError(t, f.Cause(), "closed")
}

func TestWriteFutureIsWritten(t *testing.T) {
	wf := NewWriteFuture()
	wf.Complete(true, nil)
	assert.True(t, wf.IsWritten())
}

func TestCloseFutureIsClosed(t *testing.T) {
	cf := NewCloseFuture()
	assert.False(t, cf.IsClosed())
	cf.Complete(true, nil)
	assert.True(t, cf.IsClosed())
}
