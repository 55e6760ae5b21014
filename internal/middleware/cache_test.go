package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/dosetrack/dosetrack/internal/config"
)

func cacheCtx(e *echo.Echo, target string, userID uint64) echo.Context {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/schedules/:id")
	c.Set("user_id", userID)
	return c
}

func TestCacheKeyDistinctPerEntity(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache", KeyStrategy: "path_query"}

	// Both requests hit the same echo route pattern; keys must still differ.
	k5 := cacheKeyFrom(cfg, cacheCtx(e, "/v1/schedules/5", 1))
	k7 := cacheKeyFrom(cfg, cacheCtx(e, "/v1/schedules/7", 1))
	if k5 == k7 {
		t.Fatalf("schedules 5 and 7 share cache key %q", k5)
	}

	again := cacheKeyFrom(cfg, cacheCtx(e, "/v1/schedules/5", 1))
	if again != k5 {
		t.Fatalf("key not stable for identical request: %q vs %q", again, k5)
	}
}

func TestCacheKeyScopedToUser(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache", KeyStrategy: "path_query"}

	a := cacheKeyFrom(cfg, cacheCtx(e, "/v1/schedules/5", 1))
	b := cacheKeyFrom(cfg, cacheCtx(e, "/v1/schedules/5", 2))
	if a == b {
		t.Fatalf("two users share cache key %q", a)
	}
}

func TestCacheKeyHonorsQueryStrategy(t *testing.T) {
	e := echo.New()

	withQuery := config.CacheConfig{Prefix: "cache", KeyStrategy: "path_query"}
	if cacheKeyFrom(withQuery, cacheCtx(e, "/v1/schedules/5?days=7", 1)) ==
		cacheKeyFrom(withQuery, cacheCtx(e, "/v1/schedules/5?days=30", 1)) {
		t.Fatal("path_query strategy ignored the query string")
	}

	noQuery := config.CacheConfig{Prefix: "cache", KeyStrategy: "path"}
	if cacheKeyFrom(noQuery, cacheCtx(e, "/v1/schedules/5?days=7", 1)) !=
		cacheKeyFrom(noQuery, cacheCtx(e, "/v1/schedules/5?days=30", 1)) {
		t.Fatal("path strategy keyed on the query string")
	}
}
