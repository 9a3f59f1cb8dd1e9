package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRingWriteUnterminatedLineDoesNotPanic(t *testing.T) {
	r := newLogRing(10)
	assert.NotPanics(t, func() {
		_, err := r.Write([]byte("hello"))
		require.NoError(t, err)
	})
	assert.Empty(t, r.Tail(10), "unterminated chunk must not be emitted as a line yet")
}

func TestLogRingWriteSplitAcrossChunks(t *testing.T) {
	r := newLogRing(10)
	_, err := r.Write([]byte("hel"))
	require.NoError(t, err)
	_, err = r.Write([]byte("lo\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, r.Tail(10))
}

func TestLogRingWriteMultipleLinesOneChunk(t *testing.T) {
	r := newLogRing(10)
	_, err := r.Write([]byte("one\ntwo\nthree"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, r.Tail(10))

	_, err = r.Write([]byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, r.Tail(10))
}

func TestLogRingCloseFlushesTrailingPartial(t *testing.T) {
	r := newLogRing(10)
	_, err := r.Write([]byte("trailing"))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, []string{"trailing"}, r.Tail(10))
}

func TestLogRingTailRespectsCapacity(t *testing.T) {
	r := newLogRing(2)
	_, err := r.Write([]byte("a\nb\nc\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, r.Tail(10))
}
