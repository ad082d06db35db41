package echo

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/replaykit/idempotency"
)

func newServer(calls *int32, opts ...idempotency.Option) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(opts...))
	e.POST("/orders", func(c echo.Context) error {
		atomic.AddInt32(calls, 1)
		return c.JSON(http.StatusCreated, map[string]string{"id": "order-1"})
	})
	return e
}

func postOrders(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/orders", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(idempotency.DefaultHeader, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ExecutesAndReplays(t *testing.T) {
	var calls int32
	e := newServer(&calls)

	first := postOrders(e, "key-abc")
	if first.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", first.Code)
	}

	second := postOrders(e, "key-abc")
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected handler to run once, ran %d times", calls)
	}
	if second.Code != first.Code {
		t.Errorf("Expected replayed status %d, got %d", first.Code, second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("Expected replayed body %q, got %q", first.Body.String(), second.Body.String())
	}
	if ct := second.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Expected replayed content type, got %q", ct)
	}
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	var calls int32
	e := newServer(&calls)

	postOrders(e, "")
	postOrders(e, "")

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected keyless requests to execute every time, ran %d times", calls)
	}
}

func TestMiddleware_BlankKeyRejected(t *testing.T) {
	var calls int32
	e := newServer(&calls)

	rec := postOrders(e, "  ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid "+idempotency.DefaultHeader+" header") {
		t.Errorf("Expected the header to be named, got %q", rec.Body.String())
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Expected handler not to run for a blank key")
	}
}

func TestMiddleware_RejectedKeyNamesReason(t *testing.T) {
	var calls int32
	e := newServer(&calls, idempotency.WithKeyValidator(
		idempotency.PatternValidator(idempotency.KeyMinLength, idempotency.KeyMaxLength, nil),
	))

	rec := postOrders(e, "no spaces allowed")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "allowed set") {
		t.Errorf("Expected the rejection reason, got %q", rec.Body.String())
	}
}

func TestMiddleware_HandlerErrorNotCached(t *testing.T) {
	var calls int32
	e := echo.New()
	e.Use(Middleware())
	e.POST("/orders", func(c echo.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream down")
		}
		return c.JSON(http.StatusCreated, map[string]string{"id": "order-1"})
	})

	first := postOrders(e, "key-abc")
	if first.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected the error handler's 503, got %d", first.Code)
	}

	// Nothing was cached, so the retry reaches the handler.
	second := postOrders(e, "key-abc")
	if second.Code != http.StatusCreated {
		t.Errorf("Expected retry to execute fresh, got %d", second.Code)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected 2 executions, got %d", calls)
	}
}

func TestMiddleware_ConcurrentRequestsShareOneExecution(t *testing.T) {
	var calls int32
	e := echo.New()
	e.Use(Middleware(idempotency.WithReplayHeader()))
	e.POST("/orders", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return c.JSON(http.StatusCreated, map[string]string{"id": "order-1"})
	})

	server := httptest.NewServer(e)
	defer server.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	bodies := make(map[string]int)
	liveResponses := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest("POST", server.URL+"/orders", strings.NewReader(`{}`))
			req.Header.Set(idempotency.DefaultHeader, "order-key-1")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("Request failed: %v", err)
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			mu.Lock()
			defer mu.Unlock()
			bodies[string(body)]++
			if resp.Header.Get(idempotency.ReplayMarkerHeader) == "" {
				liveResponses++
			}
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("Expected 201, got %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly 1 execution across 10 concurrent requests, got %d", got)
	}
	if len(bodies) != 1 {
		t.Errorf("Expected identical bodies for all callers, got %v", bodies)
	}
	if liveResponses != 1 {
		t.Errorf("Expected exactly 1 unmarked live response, got %d", liveResponses)
	}
}

func TestMiddleware_ReplayMarker(t *testing.T) {
	var calls int32
	e := newServer(&calls, idempotency.WithReplayHeader())

	first := postOrders(e, "key-abc")
	if first.Header().Get(idempotency.ReplayMarkerHeader) != "" {
		t.Error("Expected no replay marker on the live response")
	}

	second := postOrders(e, "key-abc")
	if second.Header().Get(idempotency.ReplayMarkerHeader) != "true" {
		t.Error("Expected replay marker on the replayed response")
	}
}

func TestMiddleware_MalformedBodyRejected(t *testing.T) {
	schema, err := idempotency.CompileBodySchema([]byte(`{
		"type": "object",
		"required": ["amount"],
		"properties": {"amount": {"type": "number"}}
	}`))
	if err != nil {
		t.Fatalf("Expected schema to compile, got %v", err)
	}

	var calls int32
	e := echo.New()
	e.Use(Middleware(idempotency.WithBodySchema(schema)))
	e.POST("/orders", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		return c.NoContent(http.StatusCreated)
	})

	// Rejections are not cached, so every delivery renders the same 400.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/orders", strings.NewReader(`{"amount": "NaN"}`))
		req.Header.Set(idempotency.DefaultHeader, "key-abc")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("Expected problem+json, got %q", ct)
		}
		if !strings.Contains(rec.Body.String(), idempotency.ErrCodeMalformedBody) {
			t.Errorf("Expected error code in body, got %s", rec.Body.String())
		}
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Expected handler never to run for malformed bodies")
	}
}

func TestMiddleware_GetPassesThrough(t *testing.T) {
	var calls int32
	e := echo.New()
	e.Use(Middleware())
	e.GET("/orders/:id", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/orders/7", nil)
		req.Header.Set(idempotency.DefaultHeader, "key-abc")
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected GET to bypass idempotency, ran %d times", calls)
	}
}

func TestMiddleware_DenyPrefixPassesThrough(t *testing.T) {
	var calls int32
	e := echo.New()
	e.Use(Middleware(idempotency.WithRoutePolicy(idempotency.PathPolicy{
		Deny: []string{"/internal/"},
	})))
	e.POST("/internal/jobs", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		return c.NoContent(http.StatusAccepted)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/internal/jobs", nil)
		req.Header.Set(idempotency.DefaultHeader, "key-abc")
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected denied prefix to execute every time, ran %d times", calls)
	}
}

func TestMiddleware_ReplayHasNoTrailingWrites(t *testing.T) {
	// A replayed response must be byte-identical even when the handler
	// writes in several chunks.
	var calls int32
	e := echo.New()
	e.Use(Middleware())
	e.POST("/orders", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		c.Response().Header().Set("Content-Type", "text/plain")
		c.Response().WriteHeader(http.StatusAccepted)
		io.WriteString(c.Response(), "part one, ")
		io.WriteString(c.Response(), "part two")
		return nil
	})

	first := postOrders(e, "key-abc")
	second := postOrders(e, "key-abc")

	if first.Body.String() != "part one, part two" {
		t.Errorf("Unexpected live body: %q", first.Body.String())
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("Expected chunked writes to replay intact, got %q", second.Body.String())
	}
	if second.Code != http.StatusAccepted {
		t.Errorf("Expected replayed 202, got %d", second.Code)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected 1 execution, got %d", calls)
	}
}
