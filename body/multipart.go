package body

import (
	"bytes"
	"strings"
	"time"

	"github.com/curol/httpd/frame"
	"github.com/curol/httpd/header"
	"github.com/curol/httpd/httperr"
	"github.com/curol/httpd/httpmsg"
)

// MultipartLimits bounds a multipart scan (§4.3).
type MultipartLimits struct {
	MaxPostSize   int64
	MaxItems      int
	MaxLineBytes  int
	MaxItemHeader int
	IdleTimeout   time.Duration
}

// IsMultipart reports whether mediaType is multipart/form-data.
func IsMultipart(mediaType string) bool {
	return mediaType == "multipart/form-data"
}

// multipartResult separates the scanned items into the files/form split
// the request model wants (§4.3: items with a filename go to Files,
// others to Form).
type multipartResult struct {
	files []*httpmsg.MultipartItem
	form  header.Values
}

// ScanMultipart performs a streaming boundary scan of fr, splitting the
// body into parts. It is restartable across arbitrary chunking of the
// underlying connection because every delimiter search is performed
// against frame.Reader's accumulating buffer rather than a single network
// read (§8: "for any splitting of the request body into chunks, the
// resulting files sequence is identical").
func ScanMultipart(fr *frame.Reader, boundary string, limits MultipartLimits) ([]*httpmsg.MultipartItem, header.Values, error) {
	res := &multipartResult{form: header.Values{}}
	dash := "--" + boundary
	scanned := int64(0)

	// Consume the opening boundary. Anything before it is preamble and is
	// discarded, matching the scanner's tolerance for leading noise.
	if _, err := fr.ReadUntilDelimiter([]byte(dash+"\r\n"), limits.IdleTimeout, int(limits.MaxPostSize)+len(dash)+2); err != nil {
		return nil, nil, err
	}

	for {
		if limits.MaxItems > 0 && len(res.files)+len(res.form) >= limits.MaxItems {
			return nil, nil, httperr.New(httperr.EntityTooLarge, "multipart item count exceeds limit")
		}

		itemHeaderLines, err := fr.ReadHeaderBlock(limits.MaxLineBytes, limits.MaxItemHeader, limits.IdleTimeout)
		if err != nil {
			return nil, nil, err
		}
		itemHeaders := header.New()
		for _, line := range itemHeaderLines {
			name, value, ok := header.ParseHeaderLine(string(line))
			if !ok {
				return nil, nil, httperr.New(httperr.BadRequest, "malformed multipart part header")
			}
			itemHeaders.Set(name, value)
		}

		disposition := itemHeaders.Get("Content-Disposition")
		_, params := header.ParseContentType(disposition)
		itemName := params["name"]
		itemFilename := params["filename"]
		itemContentType, _ := itemHeaders.ContentType()

		// Read the payload up to the next "\r\n--boundary" marker.
		remainingBudget := limits.MaxPostSize - scanned
		if remainingBudget <= 0 {
			return nil, nil, httperr.New(httperr.EntityTooLarge, "multipart body exceeds max_post_size")
		}
		raw, err := fr.ReadUntilDelimiter([]byte("\r\n"+dash), limits.IdleTimeout, int(remainingBudget))
		if err != nil {
			return nil, nil, httperr.Wrap(httperr.EntityTooLarge, "partial multipart item", err)
		}
		payload := bytes.TrimSuffix(raw, []byte("\r\n"+dash))
		scanned += int64(len(raw))

		item := &httpmsg.MultipartItem{
			Headers:     itemHeaders,
			Name:        itemName,
			Filename:    itemFilename,
			ContentType: itemContentType,
			Data:        bytes.NewReader(payload),
		}
		if item.IsFile() {
			res.files = append(res.files, item)
		} else {
			res.form[itemName] = string(payload)
		}

		// Decide whether this was the final part: the next two bytes are
		// either "--" (closing sentinel) or "\r\n" (another part follows).
		marker, err := fr.ReadExactly(2, limits.IdleTimeout)
		if err != nil {
			return nil, nil, err
		}
		if string(marker) == "--" {
			if err := checkNoTrailingBytes(fr, limits.IdleTimeout); err != nil {
				return nil, nil, err
			}
			return res.files, res.form, nil
		}
		if string(marker) != "\r\n" {
			return nil, nil, httperr.New(httperr.BadRequest, "malformed multipart boundary marker")
		}
	}
}

// checkNoTrailingBytes reads the two bytes that follow "--boundary--". A
// CRLF, whitespace, or end of stream is accepted; any other bytes fail
// BAD_REQUEST. Bytes after those two are not read, so junk that follows a
// trailing CRLF is not detected.
func checkNoTrailingBytes(fr *frame.Reader, idleTimeout time.Duration) error {
	trailing, err := fr.ReadExactly(2, idleTimeout)
	if err != nil {
		// EOF immediately after "--" is the common, well-formed case.
		if e, ok := httperr.As(err); ok && (e.Kind == httperr.ClientDisconnected || e.Kind == httperr.EmptyStreamClosed) {
			return nil
		}
		return err
	}
	if string(trailing) != "\r\n" && strings.TrimSpace(string(trailing)) != "" {
		return httperr.New(httperr.BadRequest, "trailing bytes after closing multipart boundary")
	}
	return nil
}
