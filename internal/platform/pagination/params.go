// Package pagination parses page-size/page-token query parameters and encodes the
// opaque cursors behind page tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is a validated page request. Cursor is the decoded PageToken.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options bounds page sizes for one endpoint. Zero fields use the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (def, limit int) {
	limit = o.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, limit), limit
}

// FromRequest parses the request's query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize/page_size and pageToken/page_token, camelCase first. Sizes above
// the limit are clamped; non-positive or non-numeric sizes and undecodable tokens are
// rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	def, limit := opts.bounds()
	params := Params{PageSize: def}

	if raw := query(values, "pageSize", "page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		case size <= 0:
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(size, limit)
	}

	if token := query(values, "pageToken", "page_token"); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken, params.Cursor = token, cursor
	}
	return params, nil
}

func query(values url.Values, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(values.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
