package cachekey

// Delimiter terminates every key segment. It is not escaped inside values,
// so a value containing it can make two different requests share a key.
const Delimiter byte = 0

// DefaultMaxKeySize is the largest key a Builder produces unless configured otherwise.
const DefaultMaxKeySize = 64 << 10

const minBufferSize = 256

// allocFunc returns an empty slice with capacity n, or an error when the
// memory can not be had.
type allocFunc func(n int) ([]byte, error)

// Buffer accumulates key segments. The zero Buffer is not usable; buffers
// are handed out by a Builder.
type Buffer struct {
	b     []byte
	limit int
	alloc allocFunc
}

func newBuffer(limit int, alloc allocFunc) *Buffer {
	return &Buffer{limit: limit, alloc: alloc}
}

// Len returns the number of bytes accumulated so far.
func (b *Buffer) Len() int {
	return len(b.b)
}

// AppendValue appends v followed by the delimiter.
func (b *Buffer) AppendValue(v []byte) error {
	if err := b.grow(len(v) + 1); err != nil {
		return err
	}
	b.b = append(b.b, v...)
	b.b = append(b.b, Delimiter)
	return nil
}

// AppendString is AppendValue for string values.
func (b *Buffer) AppendString(v string) error {
	if err := b.grow(len(v) + 1); err != nil {
		return err
	}
	b.b = append(b.b, v...)
	b.b = append(b.b, Delimiter)
	return nil
}

// AppendAbsent appends a lone delimiter, marking a missing value.
func (b *Buffer) AppendAbsent() error {
	if err := b.grow(1); err != nil {
		return err
	}
	b.b = append(b.b, Delimiter)
	return nil
}

// AppendRaw appends v without a delimiter.
func (b *Buffer) AppendRaw(v []byte) error {
	if err := b.grow(len(v)); err != nil {
		return err
	}
	b.b = append(b.b, v...)
	return nil
}

// Finalize copies the accumulated bytes into a new, exactly sized Key.
// The Buffer can be reset and reused afterwards without affecting the Key.
func (b *Buffer) Finalize() (Key, error) {
	k, err := b.alloc(len(b.b))
	if err != nil {
		return nil, err
	}
	return Key(append(k, b.b...)), nil
}

// grow makes room for n more bytes, failing if the key would exceed the limit.
func (b *Buffer) grow(n int) error {
	need := len(b.b) + n
	if need > b.limit {
		return ErrKeyTooLarge
	}
	if need <= cap(b.b) {
		return nil
	}
	size := 2 * cap(b.b)
	if size < minBufferSize {
		size = minBufferSize
	}
	if size < need {
		size = need
	}
	if size > b.limit {
		size = b.limit
	}
	nb, err := b.alloc(size)
	if err != nil {
		return err
	}
	b.b = append(nb, b.b...)
	return nil
}

// reset empties the buffer, keeping its storage.
func (b *Buffer) reset() {
	b.b = b.b[:0]
}

func makeAlloc(limit int) allocFunc {
	return func(n int) ([]byte, error) {
		if n > limit {
			return nil, ErrKeyTooLarge
		}
		return make([]byte, 0, n), nil
	}
}
