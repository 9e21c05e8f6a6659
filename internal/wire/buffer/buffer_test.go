package buffer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	c := New(0)
	require.NoError(t, c.PutU8(0, 0xAB))
	require.NoError(t, c.PutU16(1, 0x1234))
	require.NoError(t, c.PutU32(3, 0xDEADBEEF))

	v8, err := c.U8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), v8)

	v16, err := c.U16(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v16)

	v32, err := c.U32(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v32)
}

func TestNibblePreservesOtherHalf(t *testing.T) {
	c := New(1)
	require.NoError(t, c.PutU8(0, 0xF0))
	require.NoError(t, c.PutNibble(0, false, 0x5))
	b, err := c.U8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xF5), b)

	require.NoError(t, c.PutNibble(0, true, 0xA))
	b, err = c.U8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xA5), b)
}

func TestBitSetClearPreservesSiblings(t *testing.T) {
	c := New(1)
	require.NoError(t, c.PutU8(0, 0))
	require.NoError(t, c.PutBit(0, 5, true))
	require.NoError(t, c.PutBit(0, 1, true))

	b5, _ := c.Bit(0, 5)
	b1, _ := c.Bit(0, 1)
	b0, _ := c.Bit(0, 0)
	assert.True(t, b5)
	assert.True(t, b1)
	assert.False(t, b0)

	require.NoError(t, c.PutBit(0, 5, false))
	b5, _ = c.Bit(0, 5)
	b1, _ = c.Bit(0, 1)
	assert.False(t, b5)
	assert.True(t, b1)
}

func TestOutOfBoundsReadFailsWithFormatError(t *testing.T) {
	c := New(4)
	require.NoError(t, c.PutU8(0, 1))
	_, err := c.U32(1)
	require.Error(t, err)
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Offset)
}

func TestGrowPreservesExistingBytesAndIndices(t *testing.T) {
	c := New(2)
	require.NoError(t, c.WriteU8(0x11))
	require.NoError(t, c.WriteU8(0x22))
	readerBefore := c.ReaderIndex()
	writerBefore := c.WriterIndex()

	c.Grow(100)
	assert.GreaterOrEqual(t, c.Capacity(), 100)
	assert.Equal(t, readerBefore, c.ReaderIndex())
	assert.Equal(t, writerBefore, c.WriterIndex())

	b, err := c.Range(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22}, b)
}

func TestSequentialReadWrite(t *testing.T) {
	c := New(0)
	require.NoError(t, c.WriteU16(0xCAFE))
	require.NoError(t, c.WriteBytes([]byte("hello")))

	v, err := c.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xCAFE), v)

	s, err := c.ReadBytes(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(s))
}

func TestFixedStringRoundTrip(t *testing.T) {
	c := New(0)
	require.NoError(t, c.PutFixedString(0, "abc", 8))
	s, err := c.FixedString(0, 8)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	err = c.PutFixedString(0, "waytoolongforthisfield", 8)
	require.Error(t, err)
}

func TestReaderWriterIndexInvariant(t *testing.T) {
	c := FromBytes([]byte{1, 2, 3, 4})
	require.NoError(t, c.SetReaderIndex(4))
	err := c.SetReaderIndex(5)
	require.Error(t, err)

	err = c.SetWriterIndex(2)
	require.Error(t, err) // would violate reader <= writer after SetReaderIndex(4)
}
