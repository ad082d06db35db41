package echo

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replaykit/idempotency"
	"github.com/replaykit/idempotency/problem"
)

// Middleware is the Echo middleware enforcing request idempotency on
// tagged POST/PUT/PATCH requests.
//
// Echo resolves routes before router-level middleware runs, so c.Path()
// names the matched route. Unmatched requests keep the raw path and fall
// through to NotFoundHandler, whose error reaches us like any handler
// error: the execution fails, nothing is cached, and the 404 renders as
// usual. A handler error returned through the chain fails the in-flight
// execution the same way: coalesced waiters receive the same error, and
// each caller's error is rendered by the application's HTTPErrorHandler.
func Middleware(opts ...idempotency.Option) echo.MiddlewareFunc {
	coord := idempotency.New(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !coord.Enabled() || !coord.AppliesTo(req.Method, c.Path(), req.URL.Path) {
				return next(c)
			}

			key, err := coord.Key(req.Header)
			if err != nil {
				return keyError(c, coord.HeaderName(), err)
			}
			if key == "" {
				// No key, no idempotency guarantee
				return next(c)
			}

			var rec *recorder
			cacheKey := coord.CacheKey(req.Method, c.Path(), key)
			resp, outcome, err := coord.Do(req.Context(), cacheKey, func(ctx context.Context) (*idempotency.CachedResponse, error) {
				if err := coord.CheckBody(req); err != nil {
					return nil, err
				}

				// Swap in a capturing writer for the rest of the chain.
				rec = newRecorder()
				writer := c.Response().Writer
				c.Response().Writer = rec
				defer func() { c.Response().Writer = writer }()

				if err := next(c); err != nil {
					return nil, err
				}
				return rec.response(), nil
			})
			if err != nil {
				return failure(c, err)
			}

			if outcome == idempotency.OutcomeExecuted {
				// The response is committed on the echo side already;
				// write the capture through to the wire directly.
				rec.flush(c.Response().Writer)
				return nil
			}

			if h := coord.ReplayHeader(); h != "" {
				c.Response().Header().Set(h, "true")
			}
			return resp.Replay(c.Response())
		}
	}
}

// keyError renders the 400 for a blank or rejected idempotency key.
func keyError(c echo.Context, header string, err error) error {
	msg := "Invalid " + header + " header"
	var formatErr *idempotency.KeyFormatError
	if errors.As(err, &formatErr) {
		msg += ": " + formatErr.Reason
	}
	return c.String(http.StatusBadRequest, msg)
}

// failure maps an execution failure observed by the leader or propagated
// to a follower.
func failure(c echo.Context, err error) error {
	switch {
	case idempotency.IsMalformedBody(err):
		// Rendered directly so leader and followers produce the same 400.
		problem.New(http.StatusBadRequest, err.Error()).
			WithCode(idempotency.ErrCodeMalformedBody).
			WithInstance(c.Request().URL.Path).
			Render(c.Response())
		return nil
	default:
		return err
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
