package cachekey

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownElement = errors.New("cachekey: unknown key element")
	ErrKeyTooLarge    = errors.New("cachekey: key exceeds maximum size")
	ErrExtract        = errors.New("cachekey: could not extract value")
	ErrInvalidKey     = errors.New("cachekey: invalid key definition")
)

// BuildError is returned when a key could not be built for a request.
// Callers should treat it as "do not use the cache for this request".
type BuildError struct {
	// Rule is the name of the rule being applied.
	Rule string
	// Element is the key element that failed. It is the zero Element
	// when the failure happened while finalizing the key.
	Element Element
	Err     error
}

func (e *BuildError) Error() string {
	if e.Element.Kind == 0 {
		return fmt.Sprintf("cachekey: rule %q: %v", e.Rule, e.Err)
	}
	return fmt.Sprintf("cachekey: rule %q, element %s: %v", e.Rule, e.Element, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
