package idempotency

import "net/http"

// CachedResponse is a captured downstream response: the status code, the
// content type, and the fully buffered body. It is built exactly once,
// after the handler has finished writing, and must be treated as immutable
// from then on; every replay of the same key serves these exact bytes.
//
// The JSON encoding (body base64-encoded) is the envelope distributed
// cache backends store.
type CachedResponse struct {
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Replay writes the response to w unchanged: content type, status code,
// then the body. Headers other than Content-Type are intentionally not
// part of a replay; callers that want replay markers set them on w before
// calling Replay.
func (r *CachedResponse) Replay(w http.ResponseWriter) error {
	if r.ContentType != "" {
		w.Header().Set("Content-Type", r.ContentType)
	}
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}
