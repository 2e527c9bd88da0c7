package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlipAndGet(t *testing.T) {
	b := New(8)
	require.NoError(t, b.Put('h'))
	require.NoError(t, b.Put('i'))
	b.Flip()

	assert.Equal(t, 2, b.Remaining())
	v, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, byte('h'), v)
	v, err = b.Get()
	require.NoError(t, err)
	assert.Equal(t, byte('i'), v)
	assert.False(t, b.HasRemaining())
}

func TestCompactPreservesUnconsumedTail(t *testing.T) {
	b := New(8)
	b.PutN([]byte("hello"))
	b.Flip()

	// consume 2 bytes, leaving "llo" unconsumed
	_, _ = b.Get()
	_, _ = b.Get()
	b.Compact()

	assert.Equal(t, 3, b.Position())
	assert.Equal(t, b.Capacity(), b.Limit())
	assert.Equal(t, []byte("llo"), b.buf[:3])
}

func TestSliceIsIndependentButShared(t *testing.T) {
	b := New(8)
	b.PutN([]byte("abcdef"))
	b.Flip()

	s := b.Slice()
	assert.Equal(t, 6, s.Remaining())

	// advancing the slice's position must not move the parent's
	_, _ = s.Get()
	assert.Equal(t, 0, b.Position())

	// but storage is shared: mutating through one is visible via the other
	s.PutAt(0, 'Z')
	assert.Equal(t, byte('Z'), b.GetAt(0))
}

func TestDuplicateCopiesCursorsNotStorage(t *testing.T) {
	b := New(8)
	b.PutN([]byte("abcd"))
	d := b.Duplicate()
	assert.Equal(t, b.Position(), d.Position())
	assert.Equal(t, b.Limit(), d.Limit())

	d.SetPosition(1)
	assert.Equal(t, 4, b.Position())
}

func TestCopyIntoMovesMinOfBothRemaining(t *testing.T) {
	src := New(8)
	src.PutN([]byte("abcdef"))
	src.Flip()

	dst := New(4)
	n := CopyInto(dst, src)
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, src.Remaining())
	assert.Equal(t, 0, dst.Remaining())
}

func TestInvariantPositionLimitCapacity(t *testing.T) {
	b := New(16)
	assert.LessOrEqual(t, b.Position(), b.Limit())
	assert.LessOrEqual(t, b.Limit(), b.Capacity())
	b.SetLimit(10)
	assert.LessOrEqual(t, b.Position(), b.Limit())
	b.SetPosition(10)
	assert.LessOrEqual(t, b.Position(), b.Limit())
}

func TestGetPutOverflowUnderflow(t *testing.T) {
	b := New(1)
	require.NoError(t, b.Put('x'))
	assert.ErrorIs(t, b.Put('y'), ErrOverflow)

	b.Flip()
	_, err := b.Get()
	require.NoError(t, err)
	_, err = b.Get()
	assert.ErrorIs(t, err, ErrUnderflow)
}
