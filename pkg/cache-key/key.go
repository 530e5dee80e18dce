// Package cachekey builds cache keys from requests according to a rule's
// ordered list of key elements.
//
// Every element contributes one segment terminated by Delimiter. A missing or
// empty value contributes the delimiter alone, so the layout of a key depends
// only on the rule and never on which values a request happens to carry.
// Header elements are the exception: they emit one segment per occurrence
// followed by one extra empty segment.
package cachekey

import (
	"encoding/hex"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

const maxPooledBufferSize = 16 << 10

// Key is a finalized cache key. It is owned by the caller and may contain zero bytes.
type Key []byte

// Hash returns the 64-bit xxhash of the key.
func (k Key) Hash() uint64 {
	return xxhash.Sum64(k)
}

// Printable returns the key with all delimiters dropped. Segment boundaries
// are lost, so it is only good for reading in logs.
func (k Key) Printable() string {
	p := make([]byte, 0, len(k))
	for _, c := range k {
		if c != Delimiter {
			p = append(p, c)
		}
	}
	return string(p)
}

// Hex returns the key in hexadecimal.
func (k Key) Hex() string {
	return hex.EncodeToString(k)
}

// Builder builds keys. It is safe for concurrent use.
type Builder struct {
	log     zerolog.Logger
	trace   io.Writer
	maxSize int
	alloc   allocFunc
	pool    sync.Pool
}

type Option func(*Builder)

// WithLogger sets the logger used for per-key debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) {
		b.log = logger
	}
}

// WithMaxKeySize limits the size of the keys built. Building a larger key fails with ErrKeyTooLarge.
func WithMaxKeySize(n int) Option {
	return func(b *Builder) {
		b.maxSize = n
	}
}

// WithTrace writes every built key to w, see Trace.
func WithTrace(w io.Writer) Option {
	return func(b *Builder) {
		b.trace = w
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		log:     zerolog.Nop(),
		maxSize: DefaultMaxKeySize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.alloc == nil {
		b.alloc = makeAlloc(b.maxSize)
	}
	return b
}

var defaultBuilder = NewBuilder()

// Build builds the key for req with the default Builder.
func Build(rule *Rule, req *Request) (Key, error) {
	return defaultBuilder.Build(rule, req)
}

// Build builds the key of req according to rule. On failure it returns a
// *BuildError and no key.
func (b *Builder) Build(rule *Rule, req *Request) (Key, error) {
	if rule == nil {
		return nil, &BuildError{Err: ErrInvalidKey}
	}
	if req == nil {
		return nil, &BuildError{Rule: rule.name, Err: ErrExtract}
	}
	buf := b.acquire()
	defer b.release(buf)

	for _, e := range rule.elements {
		if err := appendElement(buf, e, req); err != nil {
			return nil, &BuildError{Rule: rule.name, Element: e, Err: err}
		}
	}
	key, err := buf.Finalize()
	if err != nil {
		return nil, &BuildError{Rule: rule.name, Err: err}
	}

	if e := b.log.Debug(); e.Enabled() {
		e.Str("rule", rule.name).
			Str("elements", rule.KeyString()).
			Str("key", key.Printable()).
			Int("size", len(key)).
			Msg("Calculate key")
	}
	if b.trace != nil {
		if err := Trace(b.trace, key); err != nil {
			b.log.Debug().Err(err).Str("rule", rule.name).Msg("Could not trace key")
		}
	}
	return key, nil
}

func appendElement(buf *Buffer, e Element, req *Request) error {
	switch e.Kind {
	case KindMethod:
		return buf.AppendString(req.Method.String())
	case KindScheme:
		if req.TLS {
			return buf.AppendString("HTTPS")
		}
		return buf.AppendString("HTTP")
	case KindHost:
		return appendOrAbsent(buf, req.Host)
	case KindURI:
		return appendOrAbsent(buf, req.URI)
	case KindPath:
		return appendOrAbsent(buf, req.Path)
	case KindDelimiter:
		if req.Delimiter {
			return buf.AppendString("?")
		}
		return buf.AppendAbsent()
	case KindQuery:
		return appendOrAbsent(buf, req.Query)
	case KindParam:
		v, _ := findParam(req.Query, e.Name)
		return appendOrAbsent(buf, v)
	case KindHeader:
		if err := eachHeaderValue(req.Header, e.Name, buf.AppendString); err != nil {
			return err
		}
		return buf.AppendAbsent()
	case KindCookie:
		v, _ := findCookie(req.Cookie, e.Name)
		return appendOrAbsent(buf, v)
	case KindBody:
		if req.Method == MethodPost || req.Method == MethodPut {
			for _, chunk := range req.Body {
				if err := buf.AppendRaw(chunk); err != nil {
					return err
				}
			}
		}
		return buf.AppendAbsent()
	default:
		return ErrUnknownElement
	}
}

func appendOrAbsent(buf *Buffer, v string) error {
	if v == "" {
		return buf.AppendAbsent()
	}
	return buf.AppendString(v)
}

func (b *Builder) acquire() *Buffer {
	if buf, ok := b.pool.Get().(*Buffer); ok {
		return buf
	}
	return newBuffer(b.maxSize, b.alloc)
}

// release returns buf to the pool. Large buffers are left to the GC.
func (b *Builder) release(buf *Buffer) {
	buf.reset()
	if cap(buf.b) > maxPooledBufferSize {
		return
	}
	b.pool.Put(buf)
}
