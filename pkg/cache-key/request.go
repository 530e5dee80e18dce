package cachekey

import (
	"net/http"
	"strings"
)

// Request is a read-only view of a request that has already been parsed.
// The strings and byte slices are borrowed from the request; a Request and
// anything extracted from it must not be kept after the request is done.
type Request struct {
	// Method is the classified request method. Its zero value is
	// MethodOptions, so a view without a method set keys as OPTIONS.
	Method Method
	// TLS is set when the request arrived over TLS.
	TLS bool
	// Host is the request authority.
	Host string
	// URI is the request target as received.
	URI string
	// Path is the path part of the request target.
	Path string
	// Query is the raw query string, without the leading "?".
	Query string
	// Delimiter is set when the request target contained a "?",
	// even if the query after it is empty.
	Delimiter bool
	// Cookie is the raw value of the Cookie header.
	Cookie string
	// Header holds all header fields. Values of a field are in wire order.
	Header http.Header
	// Body holds the request body chunks in stream order.
	Body [][]byte
}

// FromHTTP creates a view of r. body holds the request body chunks, which the
// caller must already have read; it may be nil when the key does not use the body.
func FromHTTP(r *http.Request, body [][]byte) *Request {
	uri := r.RequestURI
	if uri == "" && r.URL != nil {
		uri = r.URL.RequestURI()
	}
	path, query, delimiter := splitTarget(uri)
	req := &Request{
		Method:    ParseMethod(r.Method),
		TLS:       r.TLS != nil,
		Host:      r.Host,
		URI:       uri,
		Path:      path,
		Query:     query,
		Delimiter: delimiter,
		Header:    r.Header,
		Body:      body,
	}
	if req.Host == "" && r.URL != nil {
		req.Host = r.URL.Host
	}
	// only the first Cookie field is used
	if cookies := r.Header.Values("Cookie"); len(cookies) > 0 {
		req.Cookie = cookies[0]
	}
	return req
}

// splitTarget splits a request target into path and query.
// Absolute-form targets have their scheme and authority skipped.
func splitTarget(uri string) (path, query string, delimiter bool) {
	path = uri
	if i := strings.Index(path, "://"); i > 0 && !strings.HasPrefix(path, "/") {
		rest := path[i+3:]
		if j := strings.IndexAny(rest, "/?"); j >= 0 {
			path = rest[j:]
		} else {
			path = ""
		}
	}
	path, query, delimiter = strings.Cut(path, "?")
	return path, query, delimiter
}
