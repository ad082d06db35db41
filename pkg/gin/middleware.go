package gin

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replaykit/idempotency"
	"github.com/replaykit/idempotency/problem"
)

// Middleware is the Gin middleware enforcing request idempotency on
// tagged POST/PUT/PATCH requests.
//
// Routes the router resolves are application routes by definition, so the
// path allow list only gates requests Gin cannot match (c.FullPath()
// empty). Handlers signal failure by attaching to c.Errors without
// writing a response; such executions are not cached and coalesced
// waiters observe the same error.
func Middleware(opts ...idempotency.Option) gin.HandlerFunc {
	coord := idempotency.New(opts...)

	return func(c *gin.Context) {
		if !coord.Enabled() || !coord.AppliesTo(c.Request.Method, c.FullPath(), c.Request.URL.Path) {
			c.Next()
			return
		}

		key, err := coord.Key(c.Request.Header)
		if err != nil {
			abortKeyError(c, coord.HeaderName(), err)
			return
		}
		if key == "" {
			// No key, no idempotency guarantee
			c.Next()
			return
		}

		var w *responseWriter
		cacheKey := coord.CacheKey(c.Request.Method, c.FullPath(), key)
		resp, outcome, err := coord.Do(c.Request.Context(), cacheKey, func(ctx context.Context) (*idempotency.CachedResponse, error) {
			if err := coord.CheckBody(c.Request); err != nil {
				return nil, err
			}

			// Swap in a capturing writer for the rest of the chain.
			w = &responseWriter{
				ResponseWriter: c.Writer,
				body:           &bytes.Buffer{},
				statusCode:     http.StatusOK,
			}
			c.Writer = w
			defer func() { c.Writer = w.ResponseWriter }()
			c.Next()

			if len(c.Errors) > 0 && !w.written {
				return nil, c.Errors.Last().Err
			}
			return w.response(), nil
		})
		if err != nil {
			abortFailure(c, err)
			return
		}

		if outcome == idempotency.OutcomeExecuted {
			// Write the original response through to the wire.
			c.Writer.WriteHeader(w.statusCode)
			c.Writer.Write(w.body.Bytes())
			return
		}

		c.Abort()
		if h := coord.ReplayHeader(); h != "" {
			c.Header(h, "true")
		}
		resp.Replay(c.Writer)
	}
}

// abortKeyError renders the 400 for a blank or rejected idempotency key.
func abortKeyError(c *gin.Context, header string, err error) {
	msg := "Invalid " + header + " header"
	var formatErr *idempotency.KeyFormatError
	if errors.As(err, &formatErr) {
		msg += ": " + formatErr.Reason
	}
	c.Abort()
	c.Data(http.StatusBadRequest, "text/plain; charset=utf-8", []byte(msg))
}

// abortFailure renders an execution failure observed by the leader or
// propagated to a follower.
func abortFailure(c *gin.Context, err error) {
	c.Abort()
	switch {
	case idempotency.IsMalformedBody(err):
		problem.New(http.StatusBadRequest, err.Error()).
			WithCode(idempotency.ErrCodeMalformedBody).
			WithInstance(c.Request.URL.Path).
			Render(c.Writer)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up; nobody is left to answer.
	default:
		problem.New(http.StatusInternalServerError, err.Error()).
			WithInstance(c.Request.URL.Path).
			Render(c.Writer)
	}
}

// responseWriter is a custom response writer that captures the response
type responseWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

// response snapshots the capture in its cacheable form. Headers land on
// the real writer's header map, so only the content type travels with the
// capture.
func (w *responseWriter) response() *idempotency.CachedResponse {
	return &idempotency.CachedResponse{
		StatusCode:  w.statusCode,
		ContentType: w.Header().Get("Content-Type"),
		Body:        bytes.Clone(w.body.Bytes()),
	}
}
