package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curol/httpd/httperr"
)

func TestReadHeaderBlock_StopsAtBlankLine(t *testing.T) {
	r := New(strings.NewReader("Host: example.com\r\nAccept: */*\r\n\r\nbody follows"), nil)
	lines, err := r.ReadHeaderBlock(1024, 1<<16, 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Host: example.com", string(lines[0]))
	assert.Equal(t, "Accept: */*", string(lines[1]))
}

func TestReadHeaderBlock_LineExceedsMaxLineBytes(t *testing.T) {
	r := New(strings.NewReader("X-Long: "+strings.Repeat("a", 100)+"\r\n\r\n"), nil)
	_, err := r.ReadHeaderBlock(16, 1<<16, 0)
	require.Error(t, err)
	e, ok := httperr.As(err)
	require.True(t, ok)
	assert.Equal(t, httperr.HeaderTooLarge, e.Kind)
}

func TestReadHeaderBlock_CumulativeSizeExceedsMaxHeaderBytes(t *testing.T) {
	r := New(strings.NewReader("A: 1\r\nB: 2\r\nC: 3\r\n\r\n"), nil)
	_, err := r.ReadHeaderBlock(1024, 10, 0)
	require.Error(t, err)
	e, ok := httperr.As(err)
	require.True(t, ok)
	assert.Equal(t, httperr.HeaderTooLarge, e.Kind)
}

func TestReadHeaderBlock_EmptyStreamReportsEmptyStreamClosed(t *testing.T) {
	r := New(strings.NewReader(""), nil)
	_, err := r.ReadHeaderBlock(1024, 1<<16, 0)
	require.Error(t, err)
	e, ok := httperr.As(err)
	require.True(t, ok)
	assert.Equal(t, httperr.EmptyStreamClosed, e.Kind)
}

func TestReadExactly_ReturnsExactByteCount(t *testing.T) {
	r := New(strings.NewReader("0123456789"), nil)
	data, err := r.ReadExactly(5, 0)
	require.NoError(t, err)
	assert.Equal(t, "01234", string(data))
}

func TestReadExactly_ClientDisconnectedBeforeNBytes(t *testing.T) {
	r := New(strings.NewReader("ab"), nil)
	_, err := r.ReadExactly(5, 0)
	require.Error(t, err)
	e, ok := httperr.As(err)
	require.True(t, ok)
	assert.Equal(t, httperr.ClientDisconnected, e.Kind)
}

func TestReadUntilDelimiter_ReturnsBytesThroughDelimiter(t *testing.T) {
	r := New(strings.NewReader("prefix--BOUNDARYsuffix"), nil)
	out, err := r.ReadUntilDelimiter([]byte("--BOUNDARY"), 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, "prefix--BOUNDARY", string(out))
}

func TestReadUntilDelimiter_ExceedsMaxBytes(t *testing.T) {
	r := New(strings.NewReader(strings.Repeat("x", 100)+"--END"), nil)
	_, err := r.ReadUntilDelimiter([]byte("--END"), 0, 10)
	require.Error(t, err)
	e, ok := httperr.As(err)
	require.True(t, ok)
	assert.Equal(t, httperr.EntityTooLarge, e.Kind)
}

func TestCopyTo_CopiesUpToLimit(t *testing.T) {
	r := New(strings.NewReader("hello world"), nil)
	var sb strings.Builder
	n, err := r.CopyTo(&sb, 5, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "hello", sb.String())
}

func TestBuffered_ReflectsUnderlyingBufioState(t *testing.T) {
	r := New(strings.NewReader("0123456789"), nil)
	_, err := r.ReadExactly(3, 0)
	require.NoError(t, err)
	assert.True(t, r.Buffered() >= 0)
}
