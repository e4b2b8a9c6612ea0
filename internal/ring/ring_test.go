package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RoundsToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 64, New(0).Cap())
	assert.Equal(t, 128, New(100).Cap())
	assert.Equal(t, 256, New(256).Cap())
}

func TestWriteRead_Wraparound(t *testing.T) {
	b := New(64)
	_, err := b.Write(bytes.Repeat([]byte("a"), 60))
	require.NoError(t, err)
	assert.Equal(t, 50, b.Discard(50))

	// 跨越尾部
	_, err = b.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 64, b.Cap())
	assert.Equal(t, 26, b.Len())

	out := make([]byte, 26)
	assert.Equal(t, 26, b.Read(out))
	assert.Equal(t, "aaaaaaaaaa0123456789abcdef", string(out))
	assert.Equal(t, 0, b.Len())
}

func TestWrite_Grows(t *testing.T) {
	b := New(64)
	_, _ = b.Write(bytes.Repeat([]byte("x"), 40))
	b.Discard(30)
	payload := bytes.Repeat([]byte("y"), 200)
	n, err := b.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, 256, b.Cap())
	assert.Equal(t, 210, b.Len())

	got := b.Peek(210)
	assert.Equal(t, append(bytes.Repeat([]byte("x"), 10), payload...), got)
}

func TestPeek_DoesNotAdvance(t *testing.T) {
	b := New(64)
	_, _ = b.Write([]byte("hello"))
	assert.Equal(t, []byte("hel"), b.Peek(3))
	assert.Equal(t, 5, b.Len())
	assert.Nil(t, b.Peek(0))
	assert.Equal(t, []byte("hello"), b.Peek(99))
}

func TestDiscard_Clamps(t *testing.T) {
	b := New(64)
	_, _ = b.Write([]byte("abc"))
	assert.Equal(t, 3, b.Discard(10))
	assert.Equal(t, 0, b.Len())
	b.Reset()
	assert.Equal(t, 64, b.Free())
}

func TestWrapAcrossLargeOffset(t *testing.T) {
	b := New(4096)
	first := make([]byte, 4000)
	for i := range first {
		first[i] = byte(i)
	}
	_, _ = b.Write(first)
	out := make([]byte, 3000)
	assert.Equal(t, 3000, b.Read(out))

	// 读指针在 3000，写入跨越尾部
	second := bytes.Repeat([]byte{0xee}, 2000)
	_, err := b.Write(second)
	require.NoError(t, err)
	assert.Equal(t, 4096, b.Cap())
	require.Equal(t, 3000, b.Len())

	want := append(append([]byte(nil), first[3000:]...), second...)
	assert.Equal(t, want, b.Peek(3000))

	rest := make([]byte, 3000)
	assert.Equal(t, 3000, b.Read(rest))
	assert.Equal(t, want, rest)
}
