package stdlib

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/replaykit/idempotency"
	"github.com/replaykit/idempotency/problem"
)

// Middleware is the Go standard library middleware enforcing request
// idempotency on tagged POST/PUT/PATCH requests.
//
// net/http exposes no resolved route to wrapping middleware, so
// application routes are recognized purely by the configured route policy
// (paths under /api/ by default).
func Middleware(opts ...idempotency.Option) func(http.Handler) http.Handler {
	coord := idempotency.New(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !coord.Enabled() || !coord.AppliesTo(r.Method, "", r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key, err := coord.Key(r.Header)
			if err != nil {
				writeKeyError(w, coord.HeaderName(), err)
				return
			}
			if key == "" {
				// No key, no idempotency guarantee
				next.ServeHTTP(w, r)
				return
			}

			var rec *recorder
			cacheKey := coord.CacheKey(r.Method, r.URL.Path, key)
			resp, outcome, err := coord.Do(r.Context(), cacheKey, func(ctx context.Context) (*idempotency.CachedResponse, error) {
				if err := coord.CheckBody(r); err != nil {
					return nil, err
				}
				rec = newRecorder()
				next.ServeHTTP(rec, r.WithContext(ctx))
				return rec.response(), nil
			})
			if err != nil {
				writeFailure(w, r, err)
				return
			}

			if outcome == idempotency.OutcomeExecuted {
				// The leader answers with its live response, all headers
				// included.
				rec.flush(w)
				return
			}

			if h := coord.ReplayHeader(); h != "" {
				w.Header().Set(h, "true")
			}
			resp.Replay(w)
		})
	}
}

// writeKeyError writes the 400 for a blank or rejected idempotency key.
func writeKeyError(w http.ResponseWriter, header string, err error) {
	msg := "Invalid " + header + " header"
	var formatErr *idempotency.KeyFormatError
	if errors.As(err, &formatErr) {
		msg += ": " + formatErr.Reason
	}
	http.Error(w, msg, http.StatusBadRequest)
}

// writeFailure renders an execution failure observed by the leader or
// propagated to a follower.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case idempotency.IsMalformedBody(err):
		problem.New(http.StatusBadRequest, err.Error()).
			WithCode(idempotency.ErrCodeMalformedBody).
			WithInstance(r.URL.Path).
			Render(w)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up; nobody is left to answer.
	default:
		problem.New(http.StatusInternalServerError, err.Error()).
			WithInstance(r.URL.Path).
			Render(w)
	}
}

// recorder buffers the downstream response so it can be captured, cached,
// and replayed.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
	wrote  bool
}

func newRecorder() *recorder {
	return &recorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (rec *recorder) Header() http.Header {
	return rec.header
}

func (rec *recorder) WriteHeader(code int) {
	if !rec.wrote {
		rec.status = code
		rec.wrote = true
	}
}

func (rec *recorder) Write(b []byte) (int, error) {
	if !rec.wrote {
		rec.WriteHeader(http.StatusOK)
	}
	return rec.body.Write(b)
}

// response snapshots the capture in its cacheable form.
func (rec *recorder) response() *idempotency.CachedResponse {
	return &idempotency.CachedResponse{
		StatusCode:  rec.status,
		ContentType: rec.header.Get("Content-Type"),
		Body:        bytes.Clone(rec.body.Bytes()),
	}
}

// flush writes the live response through to w, headers included.
func (rec *recorder) flush(w http.ResponseWriter) {
	for k, vals := range rec.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rec.status)
	w.Write(rec.body.Bytes())
}
