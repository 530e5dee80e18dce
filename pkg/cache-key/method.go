package cachekey

import "strings"

// Method is a request method classified against the proxy's table of known methods.
type Method int

const (
	MethodOptions Method = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodTrace
	MethodConnect
	MethodOther
)

var knownMethods = [...]string{
	MethodOptions: "OPTIONS",
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodTrace:   "TRACE",
	MethodConnect: "CONNECT",
	MethodOther:   "OTHER",
}

// ParseMethod classifies a method token as it appeared on the wire.
// Case is ignored; anything not in the table is MethodOther.
func ParseMethod(token string) Method {
	for m, name := range knownMethods[:MethodOther] {
		if strings.EqualFold(token, name) {
			return Method(m)
		}
	}
	return MethodOther
}

// String returns the canonical uppercase token used in keys.
func (m Method) String() string {
	if m < MethodOptions || m > MethodOther {
		return knownMethods[MethodOther]
	}
	return knownMethods[m]
}
