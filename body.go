package rulecache

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	cachekey "github.com/always-cache/rulecache/pkg/cache-key"
)

const bodyChunkSize = 32 << 10

var errBodyTooLarge = errors.New("rulecache: request body too large for key")

// hasKeyedBody reports whether the request method is one whose body goes into keys.
func hasKeyedBody(r *http.Request) bool {
	m := cachekey.ParseMethod(r.Method)
	return m == cachekey.MethodPost || m == cachekey.MethodPut
}

// readBody reads the request body in chunks of at most bodyChunkSize and puts
// back a body that replays them, so that the next handler sees the full body.
// Bodies larger than max are not read completely and an error is returned.
func readBody(r *http.Request, max int64) ([][]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	original := r.Body
	var chunks [][]byte
	var total int64
	var readErr error
	for {
		chunk := make([]byte, bodyChunkSize)
		n, err := io.ReadFull(original, chunk)
		if n > 0 {
			chunks = append(chunks, chunk[:n])
			total += int64(n)
		}
		if total > max {
			readErr = errBodyTooLarge
			break
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}
	readers := make([]io.Reader, 0, len(chunks)+1)
	for _, chunk := range chunks {
		readers = append(readers, bytes.NewReader(chunk))
	}
	if readErr != nil {
		// the rest is still unread
		readers = append(readers, original)
	}
	r.Body = replayBody{Reader: io.MultiReader(readers...), Closer: original}
	if readErr != nil {
		return nil, readErr
	}
	return chunks, nil
}

type replayBody struct {
	io.Reader
	io.Closer
}
