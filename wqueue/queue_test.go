package wqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueblueblue/mina/buffer"
)

func TestFIFOOrder(t *testing.T) {
	q := New()
	r1 := NewRequest(buffer.New(1), "one")
	r2 := NewRequest(buffer.New(1), "two")
	q.Offer(r1)
	q.Offer(r2)

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "one", head.Message)

	q.Remove()
	head, ok = q.Peek()
	require.True(t, ok)
	assert.Equal(t, "two", head.Message)

	q.Remove()
	assert.True(t, q.IsEmpty())
}

func TestRemoveOnEmptyIsNoop(t *testing.T) {
	q := New()
	q.Remove()
	assert.True(t, q.IsEmpty())
}

func TestDrainFailsAllPendingFutures(t *testing.T) {
	q := New()
	r1 := NewRequest(buffer.New(1), "one")
	r2 := NewRequest(buffer.New(1), "two")
	q.Offer(r1)
	q.Offer(r2)

	cause := errors.New("session closed")
	q.Drain(cause)

	assert.True(t, q.IsEmpty())
	assert.False(t, r1.Future.IsSuccess())
	assert.Equal(t, cause, r1.Future.Cause())
	assert.False(t, r2.Future.IsSuccess())
	assert.Equal(t, cause, r2.Future.Cause())
}

func TestLenTracksPendingCount(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.Len())
	q.Offer(NewRequest(buffer.New(1), "x"))
	assert.Equal(t, 1, q.Len())
	q.Remove()
	assert.Equal(t, 0, q.Len())
}
