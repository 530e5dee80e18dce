package cachekey

import (
	"net/http"
	"net/textproto"
	"strings"
)

// findParam returns the value of the first name=value pair in a raw query.
// Names are compared as-is, without decoding.
func findParam(query, name string) (string, bool) {
	for query != "" {
		var pair string
		pair, query, _ = strings.Cut(query, "&")
		if k, v, ok := strings.Cut(pair, "="); ok && k == name {
			return v, true
		}
	}
	return "", false
}

// findCookie returns the value of the first cookie called name in a raw
// Cookie header value.
func findCookie(header, name string) (string, bool) {
	for header != "" {
		var pair string
		pair, header, _ = strings.Cut(header, ";")
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if trimOWS(k) == name {
			return trimOWS(v), true
		}
	}
	return "", false
}

// eachHeaderValue calls fn for every value of the named header, in wire order.
// A field line carrying a comma separated list yields one value per list member;
// commas inside quoted strings do not split.
func eachHeaderValue(h http.Header, name string, fn func(string) error) error {
	for _, line := range h[textproto.CanonicalMIMEHeaderKey(name)] {
		for {
			v, rest, more := nextListMember(line)
			if err := fn(v); err != nil {
				return err
			}
			if !more {
				break
			}
			line = rest
		}
	}
	return nil
}

// nextListMember splits off the first member of a comma separated field value.
func nextListMember(s string) (member, rest string, more bool) {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && quoted:
			i++
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			return trimOWS(s[:i]), s[i+1:], true
		}
	}
	return trimOWS(s), "", false
}

func trimOWS(s string) string {
	return strings.Trim(s, " \t")
}
