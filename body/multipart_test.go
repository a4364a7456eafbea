package body

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curol/httpd/frame"
)

func buildMultipartBody(boundary string) string {
	var b strings.Builder
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"title\"\r\n\r\n")
	b.WriteString("hello world")
	b.WriteString("\r\n--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n")
	b.WriteString("Content-Type: text/plain\r\n\r\n")
	b.WriteString("file contents here")
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.String()
}

func TestScanMultipart_SplitsFormAndFiles(t *testing.T) {
	boundary := "XYZ123"
	raw := buildMultipartBody(boundary)
	fr := frame.New(strings.NewReader(raw), nil)

	files, form, err := ScanMultipart(fr, boundary, MultipartLimits{
		MaxPostSize:   1 << 20,
		MaxItems:      10,
		MaxLineBytes:  4096,
		MaxItemHeader: 4096,
	})
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Filename)
	data, err := io.ReadAll(files[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "file contents here", string(data))

	assert.Equal(t, "hello world", form["title"])
}

// Feeding the scanner a bufio.Reader whose underlying source only yields
// one byte per Read call exercises the same ReadUntilDelimiter path
// a connection chunked at an arbitrary byte offset would, since frame.Reader
// always scans its own accumulating buffer rather than a single read.
type trickleReader struct {
	data []byte
}

func (t *trickleReader) Read(p []byte) (int, error) {
	if len(t.data) == 0 {
		return 0, io.EOF
	}
	n := 1
	if len(p) < n {
		n = len(p)
	}
	copy(p, t.data[:n])
	t.data = t.data[n:]
	return n, nil
}

func TestScanMultipart_SurvivesArbitraryChunking(t *testing.T) {
	boundary := "BOUNDARYVALUE"
	raw := buildMultipartBody(boundary)
	fr := frame.New(&trickleReader{data: []byte(raw)}, nil)

	files, form, err := ScanMultipart(fr, boundary, MultipartLimits{
		MaxPostSize:   1 << 20,
		MaxItems:      10,
		MaxLineBytes:  4096,
		MaxItemHeader: 4096,
	})
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, "hello world", form["title"])
}
