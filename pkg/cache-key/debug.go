package cachekey

import "io"

// Trace writes a printable rendering of key to w: the key bytes with the
// delimiters left out, followed by a newline.
func Trace(w io.Writer, key Key) error {
	_, err := io.WriteString(w, key.Printable()+"\n")
	return err
}
