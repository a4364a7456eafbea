// Package frame implements the byte-accurate buffered framing reader over
// a raw connection: line-oriented header reads bounded by max-line and
// max-total byte counters, exact-length reads, delimiter scans, and
// timed copies — all bounded by an idle timeout per §4.1.
package frame

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"time"

	"github.com/curol/httpd/httperr"
	"github.com/valyala/bytebufferpool"
)

// Deadliner is the subset of net.Conn the reader needs to enforce idle
// timeouts. Production callers pass a net.Conn; tests can pass a fake.
type Deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Reader wraps a buffered byte stream with the size and time guards §4.1
// requires. It never hands out a view into a buffer the next read call
// will overwrite: every line returned by ReadHeaderBlock is copied out of
// a pool buffer owned by the caller until the next call on this Reader
// (§4.1, §9 "shared mutable buffer defect").
type Reader struct {
	br   *bufio.Reader
	dl   Deadliner
	pool *bytebufferpool.Pool
}

// New wraps r (already line-buffered or not — New wraps it in a bufio.Reader
// if it isn't one) with idle-timeout enforcement against dl.
func New(r io.Reader, dl Deadliner) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{br: br, dl: dl, pool: new(bytebufferpool.Pool)}
}

// NewConn is New for the common case of reading directly off a net.Conn.
func NewConn(conn net.Conn) *Reader {
	return New(conn, conn)
}

// resetDeadline arms the idle timeout before a blocking read. A zero
// idleTimeout disables the deadline (used by tests against non-conn
// readers).
func (r *Reader) resetDeadline(idleTimeout time.Duration) error {
	if r.dl == nil || idleTimeout <= 0 {
		return nil
	}
	return r.dl.SetReadDeadline(time.Now().Add(idleTimeout))
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// ReadHeaderBlock reads CRLF-terminated lines until a blank line (the
// header/body boundary), enforcing maxLineBytes per line and
// maxHeaderBytes cumulatively, with the idle timeout reset before each
// underlying read. Returned lines have CRLF/LF stripped and are stable
// copies owned by the caller.
func (r *Reader) ReadHeaderBlock(maxLineBytes, maxHeaderBytes int, idleTimeout time.Duration) ([][]byte, error) {
	var lines [][]byte
	total := 0
	for {
		line, err := r.readLine(maxLineBytes, idleTimeout)
		if err != nil {
			return lines, err
		}
		total += len(line) + 2 // account for the CRLF this line consumed
		if maxHeaderBytes > 0 && total > maxHeaderBytes {
			return lines, httperr.New(httperr.HeaderTooLarge, "cumulative header size exceeds limit")
		}
		if len(line) == 0 {
			return lines, nil
		}
		buf := r.pool.Get()
		buf.Write(line)
		lines = append(lines, buf.Bytes())
	}
}

// readLine reads a single CRLF- or LF-terminated line, stripping the
// terminator, failing with HeaderTooLarge if it exceeds maxLineBytes
// before a terminator is seen.
func (r *Reader) readLine(maxLineBytes int, idleTimeout time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	for {
		if err := r.resetDeadline(idleTimeout); err != nil {
			return nil, err
		}
		b, err := r.br.ReadByte()
		if err != nil {
			if isTimeout(err) {
				return nil, httperr.New(httperr.Timeout, "idle timeout reading line")
			}
			if err == io.EOF && buf.Len() == 0 {
				return nil, httperr.New(httperr.EmptyStreamClosed, "connection closed before any bytes")
			}
			if err == io.EOF {
				return nil, httperr.Wrap(httperr.ClientDisconnected, "connection closed mid-line", err)
			}
			return nil, err
		}
		if b == '\n' {
			out := buf.Bytes()
			out = bytes.TrimSuffix(out, []byte{'\r'})
			return out, nil
		}
		buf.WriteByte(b)
		if maxLineBytes > 0 && buf.Len() > maxLineBytes {
			return nil, httperr.New(httperr.HeaderTooLarge, "header line exceeds max line size")
		}
	}
}

// ReadExactly reads exactly n bytes, resetting the idle deadline between
// chunks so only true inactivity trips the timeout, not a slow-but-steady
// sender.
func (r *Reader) ReadExactly(n int, idleTimeout time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		if err := r.resetDeadline(idleTimeout); err != nil {
			return nil, err
		}
		nn, err := r.br.Read(buf[read:])
		read += nn
		if err != nil {
			if isTimeout(err) {
				return buf[:read], httperr.New(httperr.Timeout, "idle timeout reading body")
			}
			if err == io.EOF {
				return buf[:read], httperr.Wrap(httperr.ClientDisconnected, "connection closed before n bytes read", err)
			}
			return buf[:read], err
		}
	}
	return buf, nil
}

// ReadUntilDelimiter reads and returns all bytes up to and including the
// first occurrence of delim, resetting the idle deadline between reads.
// It is used by the multipart scanner to locate boundary markers that may
// straddle the underlying bufio.Reader's internal buffer.
func (r *Reader) ReadUntilDelimiter(delim []byte, idleTimeout time.Duration, maxBytes int) ([]byte, error) {
	var out bytes.Buffer
	for {
		if err := r.resetDeadline(idleTimeout); err != nil {
			return nil, err
		}
		chunk, err := r.br.ReadBytes(delim[len(delim)-1])
		out.Write(chunk)
		if maxBytes > 0 && out.Len() > maxBytes {
			return nil, httperr.New(httperr.EntityTooLarge, "delimiter not found within size bound")
		}
		if bytes.HasSuffix(out.Bytes(), delim) {
			return out.Bytes(), nil
		}
		if err != nil {
			if isTimeout(err) {
				return nil, httperr.New(httperr.Timeout, "idle timeout scanning for delimiter")
			}
			if err == io.EOF {
				return nil, httperr.Wrap(httperr.ClientDisconnected, "connection closed before delimiter found", err)
			}
			return nil, err
		}
	}
}

// CopyTo copies up to limit bytes from r into dst, resetting the idle
// deadline between chunks. It returns the number of bytes copied.
func (r *Reader) CopyTo(dst io.Writer, limit int64, idleTimeout time.Duration) (int64, error) {
	const chunkSize = 32 * 1024
	var total int64
	buf := make([]byte, chunkSize)
	for total < limit {
		if err := r.resetDeadline(idleTimeout); err != nil {
			return total, err
		}
		want := int64(len(buf))
		if remaining := limit - total; remaining < want {
			want = remaining
		}
		n, err := r.br.Read(buf[:want])
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if isTimeout(err) {
				return total, httperr.New(httperr.Timeout, "idle timeout copying body")
			}
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}

// Buffered returns the bufio.Reader's buffered byte count, used by
// callers that need to hand the remaining buffered bytes to a new
// consumer (e.g. after header parsing, before body decoding).
func (r *Reader) Buffered() int { return r.br.Buffered() }

// Raw exposes the underlying *bufio.Reader for components that need to
// pass it directly to header.ReadHeaders or similar line-oriented
// consumers that already respect the size limits applied upstream.
func (r *Reader) Raw() *bufio.Reader { return r.br }
