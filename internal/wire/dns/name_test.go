package dns

import (
	"testing"

	"github.com/netrelay/dnsrelay/internal/wire/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadNameRoundTrip(t *testing.T) {
	c := buffer.New(0)
	require.NoError(t, writeName(c, nil, "example.com"))

	name, next, err := readName(c, 0)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", name)
	assert.Equal(t, c.WriterIndex(), next)
}

func TestWriteNameCompression(t *testing.T) {
	c := buffer.New(0)
	names := make(map[string]int)

	require.NoError(t, writeName(c, names, "example.com"))
	firstLen := c.WriterIndex()

	require.NoError(t, writeName(c, names, "example.com"))
	secondLen := c.WriterIndex() - firstLen

	// A fully compressed repeat is a single 2-byte pointer.
	assert.Equal(t, 2, secondLen)

	name1, _, err := readName(c, 0)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", name1)

	name2, _, err := readName(c, firstLen)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", name2)
}

func TestReadNameFollowsPointer(t *testing.T) {
	c := buffer.New(0)
	require.NoError(t, c.WriteBytes([]byte{3, 'f', 'o', 'o', 0}))
	pointerOffset := c.WriterIndex()
	require.NoError(t, c.WriteU16(0xC000))

	name, _, err := readName(c, pointerOffset)
	require.NoError(t, err)
	assert.Equal(t, "foo.", name)
}

func TestReadNameRejectsExcessiveDepth(t *testing.T) {
	c := buffer.New(0)
	// Build a chain of pointers each jumping to the previous one, one
	// link longer than MaxNameDepth permits.
	require.NoError(t, c.WriteBytes([]byte{0}))
	prevOffset := 0
	var lastOffset int
	for i := 0; i < MaxNameDepth+1; i++ {
		lastOffset = c.WriterIndex()
		require.NoError(t, c.WriteU16(uint16(0xC000)|uint16(prevOffset)))
		prevOffset = lastOffset
	}

	_, _, err := readName(c, lastOffset)
	require.Error(t, err)
	var fe *buffer.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "name depth", fe.Context)
}

func TestWriteNameRejectsOversizedLabel(t *testing.T) {
	c := buffer.New(0)
	label := make([]byte, 64)
	for i := range label {
		label[i] = 'a'
	}
	err := writeName(c, nil, string(label)+".com")
	assert.Error(t, err)
}
