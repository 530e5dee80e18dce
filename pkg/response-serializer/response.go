package serializer

import (
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// TimedResponse is a response as kept in the cache.
type TimedResponse struct {
	StatusCode int         `msgpack:"status"`
	Header     http.Header `msgpack:"header"`
	Body       []byte      `msgpack:"body"`
	// The value of the clock at the time of the request that resulted in the stored response.
	RequestTime time.Time `msgpack:"requested_at"`
	// The value of the clock at the time the response was received.
	ResponseTime time.Time `msgpack:"received_at"`
}

// StoredResponseToBytes encodes a response for storage.
func StoredResponseToBytes(res TimedResponse) ([]byte, error) {
	return msgpack.Marshal(&res)
}

// BytesToStoredResponse decodes a response previously encoded with StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (TimedResponse, error) {
	var res TimedResponse
	err := msgpack.Unmarshal(b, &res)
	return res, err
}

// Write sends the response to w. Headers already set on w are kept.
func (res TimedResponse) Write(w http.ResponseWriter) error {
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	_, err := w.Write(res.Body)
	return err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
