package cachekey

import (
	"fmt"
	"strings"
)

// DefaultKey is used by rules that do not define a key.
const DefaultKey = "method.scheme.host.uri"

const (
	elementSeparator = "."
	nameSeparator    = "_"
)

// Rule is the key definition of one cache rule.
// A Rule is immutable once created and may be shared between goroutines.
type Rule struct {
	name     string
	elements []Element
	body     bool
}

// NewRule creates a rule from an ordered list of elements.
// The elements are copied, so the caller may reuse the slice.
func NewRule(name string, elements ...Element) (*Rule, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: rule %q has no elements", ErrInvalidKey, name)
	}
	r := &Rule{
		name:     name,
		elements: make([]Element, len(elements)),
	}
	for i, e := range elements {
		if !e.Kind.valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownElement, e.Kind)
		}
		if e.Kind.named() && e.Name == "" {
			return nil, fmt.Errorf("%w: %s element without a name", ErrInvalidKey, e.Kind)
		}
		if !e.Kind.named() {
			e.Name = ""
		}
		if e.Kind == KindBody {
			r.body = true
		}
		r.elements[i] = e
	}
	return r, nil
}

// ParseRule creates a rule from a key definition such as
// "method.scheme.host.uri.header_Accept-Language". An empty definition
// means DefaultKey.
func ParseRule(name, key string) (*Rule, error) {
	elements, err := ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", name, err)
	}
	return NewRule(name, elements...)
}

// ParseKey parses a dot separated key definition into its elements.
func ParseKey(key string) ([]Element, error) {
	if key == "" {
		key = DefaultKey
	}
	tokens := strings.Split(key, elementSeparator)
	elements := make([]Element, 0, len(tokens))
	for _, tok := range tokens {
		e, err := parseElement(tok)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}
	return elements, nil
}

func parseElement(tok string) (Element, error) {
	kind, name, hasName := strings.Cut(tok, nameSeparator)
	for k := KindMethod; k <= KindBody; k++ {
		if kindNames[k] != kind {
			continue
		}
		if k.named() != hasName || (hasName && name == "") {
			break
		}
		return Element{Kind: k, Name: name}, nil
	}
	return Element{}, fmt.Errorf("%w: %q", ErrInvalidKey, tok)
}

// Name returns the rule name.
func (r *Rule) Name() string {
	return r.name
}

// Elements returns a copy of the rule's elements in key order.
func (r *Rule) Elements() []Element {
	return append([]Element(nil), r.elements...)
}

// Len returns the number of elements in the rule.
func (r *Rule) Len() int {
	return len(r.elements)
}

// HasBody reports whether the key depends on the request body.
// Callers use it to decide whether the body must be buffered before building the key.
func (r *Rule) HasBody() bool {
	return r.body
}

// KeyString renders the rule's elements back into key syntax.
func (r *Rule) KeyString() string {
	parts := make([]string, len(r.elements))
	for i, e := range r.elements {
		parts[i] = e.String()
	}
	return strings.Join(parts, elementSeparator)
}
