package conn

import (
	"bytes"
	"net"
)

// connBodyWriter frames response bytes onto the underlying socket: chunked
// (Transfer-Encoding: chunked) if the header block it was handed declares
// it, length-delimited otherwise (§4.4). finish writes the terminating
// zero-length chunk when chunked framing was used.
type connBodyWriter struct {
	w          net.Conn
	chunked    bool
	headerSent bool
}

func newConnBodyWriter(w net.Conn) *connBodyWriter {
	return &connBodyWriter{w: w}
}

// Flush writes the header block and records whether the response is
// chunked, read off its own Transfer-Encoding line.
func (c *connBodyWriter) Flush(headerBlock []byte) error {
	c.headerSent = true
	c.chunked = bytes.Contains(headerBlock, []byte("Transfer-Encoding: chunked"))
	_, err := c.w.Write(headerBlock)
	return err
}

// Write streams one body write, wrapping it in a chunk frame when chunked.
func (c *connBodyWriter) Write(p []byte) (int, error) {
	if !c.chunked {
		return c.w.Write(p)
	}
	if _, err := c.w.Write([]byte(lenHex(len(p)) + "\r\n")); err != nil {
		return 0, err
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := c.w.Write([]byte("\r\n")); err != nil {
		return n, err
	}
	return n, nil
}

// finish writes the terminating zero-length chunk if this response used
// chunked framing; a no-op for length-delimited or unflushed responses.
func (c *connBodyWriter) finish() {
	if c.chunked {
		c.w.Write([]byte("0\r\n\r\n"))
	}
}

func lenHex(n int) string {
	const hexDigits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = hexDigits[n&0xf]
		n >>= 4
	}
	return string(buf[i:])
}
