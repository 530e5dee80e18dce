package cachekey

import "strconv"

// Kind identifies the request facet a key element reads.
// The zero Kind is invalid.
type Kind uint8

const (
	KindMethod Kind = iota + 1
	KindScheme
	KindHost
	KindURI
	KindPath
	KindDelimiter
	KindQuery
	KindParam
	KindHeader
	KindCookie
	KindBody
)

var kindNames = [...]string{
	KindMethod:    "method",
	KindScheme:    "scheme",
	KindHost:      "host",
	KindURI:       "uri",
	KindPath:      "path",
	KindDelimiter: "delimiter",
	KindQuery:     "query",
	KindParam:     "param",
	KindHeader:    "header",
	KindCookie:    "cookie",
	KindBody:      "body",
}

func (k Kind) String() string {
	if !k.valid() {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

func (k Kind) valid() bool {
	return k >= KindMethod && k <= KindBody
}

// named reports whether elements of this kind carry a name.
func (k Kind) named() bool {
	return k == KindParam || k == KindHeader || k == KindCookie
}

// Element is one configured facet of a request. Param, Header and Cookie
// elements carry the name of the parameter, header or cookie to read.
type Element struct {
	Kind Kind
	Name string
}

// String renders the element in key syntax, e.g. "host" or "header_X-Tag".
func (e Element) String() string {
	if e.Kind.named() {
		return e.Kind.String() + "_" + e.Name
	}
	return e.Kind.String()
}

func Param(name string) Element  { return Element{Kind: KindParam, Name: name} }
func Header(name string) Element { return Element{Kind: KindHeader, Name: name} }
func Cookie(name string) Element { return Element{Kind: KindCookie, Name: name} }
