package body

import (
	"io"

	"github.com/ajg/form"
	"github.com/curol/httpd/header"
	"github.com/curol/httpd/httperr"
)

// IsURLEncodedForm reports whether mediaType (already lower-cased, no
// parameters) is application/x-www-form-urlencoded (§4.3, prefix match
// ignoring parameters).
func IsURLEncodedForm(mediaType string) bool {
	return mediaType == "application/x-www-form-urlencoded"
}

// DecodeURLEncodedForm fully reads r (bounded by maxURLEncodedFormSize),
// transcodes it to UTF-8 per its declared charset (§4.3), and splits it on
// '&', decoding each pair with '+'→space.
func DecodeURLEncodedForm(r io.Reader, maxURLEncodedFormSize int64, charset string) (header.Values, error) {
	raw, err := ReadAllBounded(r, maxURLEncodedFormSize)
	if err != nil {
		if e, ok := httperr.As(err); ok {
			return nil, httperr.New(e.Kind, "url-encoded form exceeds max_url_encoded_form_size")
		}
		return nil, err
	}
	decoded, err := header.DecodeToUTF8(charset, raw)
	if err != nil {
		return nil, httperr.Wrap(httperr.BadRequest, "could not decode url-encoded form charset", err)
	}
	return header.ParseFormBody(string(decoded))
}

// DecodeURLEncodedFormInto decodes raw urlencoded bytes directly into a
// typed struct target, used by the controller binder when a Form-sourced
// parameter declares a struct type instead of a scalar. form.DecodeString
// already understands the nested struct/slice/map shapes urlencoded
// bodies commonly carry.
func DecodeURLEncodedFormInto(raw string, target any) error {
	if err := form.DecodeString(raw, target); err != nil {
		return httperr.Wrap(httperr.BadRequest, "could not bind form body to parameter type", err)
	}
	return nil
}
