// Package idempotency makes retried HTTP submissions safe by coalescing
// requests that carry the same idempotency key and replaying captured
// responses.
//
// # Overview
//
// Clients tag unsafe requests (POST, PUT, PATCH) with an X-Idempotency-Key
// header. The first request with a given key executes the downstream
// handler; its response is buffered, cached, and returned. Concurrent
// duplicates arriving while that execution is still running wait for it
// and receive the same response. Later duplicates are answered from the
// response cache, byte for byte, until the entry expires.
//
// Within a single process the guarantee is strict: per key, at most one
// downstream execution, no matter how many duplicates race. Distributed
// cache backends extend replay across processes but do not add a
// cross-process execution lock; see the ResponseCache documentation.
//
// # Usage
//
// Basic usage with the net/http adapter and the default in-memory cache:
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/orders", ordersHandler)
//
//	handler := stdlib.Middleware()(mux)
//	http.ListenAndServe(":8080", handler)
//
// Custom TTL and a shared Redis cache:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	handler := stdlib.Middleware(
//	    idempotency.WithTTL(1*time.Hour),
//	    idempotency.WithCache(cache.NewRedis(rdb)),
//	)(mux)
//
// Gin and Echo adapters live under pkg/gin and pkg/echo and take the same
// options.
//
// The coordinator can also be used directly, outside HTTP middleware:
//
//	coord := idempotency.New(idempotency.WithTTL(10 * time.Minute))
//	resp, outcome, err := coord.Do(ctx, key, func(ctx context.Context) (*idempotency.CachedResponse, error) {
//	    return process(ctx, req)
//	})
//
// # How It Works
//
// 1. On a tagged request, the response cache is checked; a hit is replayed
// immediately without touching the handler.
//
// 2. The key is registered in an in-process registry with an atomic
// insert-if-absent. The first registrant becomes the leader; everyone else
// becomes a follower and waits on the leader's flight.
//
// 3. The leader runs the handler with its response buffered, writes the
// captured response to the cache, resolves the flight, and removes the
// registration. Followers receive the leader's response (or its error)
// directly from the flight, so a broken cache backend never splits the
// outcome between leader and followers.
//
// Failed executions are not cached; followers of a failed flight observe
// the failure, and the next request with that key executes fresh. Cache
// backend errors are logged and absorbed: reads degrade to misses, writes
// are dropped, and the live request is never failed by its cache.
package idempotency
