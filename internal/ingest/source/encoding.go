package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LookupEncoding resolves a WHATWG or IANA encoding name. utf-8 and
// utf-8-sig are the same here since a BOM is stripped either way.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "utf-8", "utf8", "utf-8-sig", "utf_8_sig":
		return unicode.UTF8, nil
	default:
		if enc, err := htmlindex.Get(n); err == nil {
			return enc, nil
		}
		enc, err := ianaindex.IANA.Encoding(n)
		if err != nil || enc == nil {
			return nil, apperr.NewValidation(fmt.Sprintf("unknown encoding %q", name))
		}
		return enc, nil
	}
}

// decodeReader converts r to UTF-8. A leading UTF-8 or UTF-16 byte-order
// mark overrides the configured encoding and is dropped.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}
