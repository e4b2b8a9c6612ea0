package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendNext_Plain(t *testing.T) {
	buf, err := Append(nil, 7, []byte("hello"), false)
	require.NoError(t, err)
	assert.Len(t, buf, HeaderLen(5)+5)

	f, n, err := Next(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, uint16(7), f.Kind)
	assert.Equal(t, "hello", string(f.Payload))
	assert.False(t, f.Compressed)
}

func TestAppendNext_CompressedLongHeader(t *testing.T) {
	payload := bytes.Repeat([]byte("evbase "), 5000)
	buf, err := Append(nil, 1, payload, true)
	require.NoError(t, err)
	assert.Less(t, len(buf), len(payload))

	f, n, err := Next(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.True(t, f.Compressed)
	assert.Equal(t, payload, f.Payload)

	// 未压缩的长帧走 4 字节头
	big := bytes.Repeat([]byte{1}, shortMaxLen+1)
	buf, err = Append(nil, 2, big, false)
	require.NoError(t, err)
	assert.Equal(t, 4+kindSize+len(big), len(buf))
	f, _, err = Next(buf)
	require.NoError(t, err)
	assert.Equal(t, big, f.Payload)
}

func TestNext_Incomplete(t *testing.T) {
	buf, err := Append(nil, 3, []byte("abcdef"), false)
	require.NoError(t, err)

	for i := 0; i < len(buf); i++ {
		_, n, err := Next(buf[:i])
		assert.ErrorIs(t, err, ErrIncomplete, "prefix %d", i)
		assert.Zero(t, n)
	}
}

func TestNext_Sequence(t *testing.T) {
	var buf []byte
	var err error
	for i := 0; i < 3; i++ {
		buf, err = Append(buf, uint16(i), []byte{byte('a' + i)}, i == 1)
		require.NoError(t, err)
	}
	var kinds []uint16
	var bodies []string
	for len(buf) > 0 {
		f, n, err := Next(buf)
		require.NoError(t, err)
		kinds = append(kinds, f.Kind)
		bodies = append(bodies, string(f.Payload))
		buf = buf[n:]
	}
	assert.Equal(t, []uint16{0, 1, 2}, kinds)
	assert.Equal(t, []string{"a", "b", "c"}, bodies)
}

func TestNext_CorruptCompressedBody(t *testing.T) {
	buf := putHeader(nil, 4, true)
	buf = append(buf, 0, 9, 0xde, 0xad, 0xbe, 0xef)
	_, n, err := Next(buf)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, len(buf), n)
}
