package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"request_id": RequestIDFromContext(r.Context())})
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler(), mark("a"), mark("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b"}, order)
}

func TestRequestID(t *testing.T) {
	h := WithRequestID(okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	require.Contains(t, rec.Body.String(), `"abc"`)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 100))
	h.ServeHTTP(rec, req)
	require.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestAPIKey(t *testing.T) {
	h := WithAPIKey("secret")(okHandler())

	cases := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"secret", http.StatusOK},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.key != "" {
			req.Header.Set(APIKeyHeader, tc.key)
		}
		h.ServeHTTP(rec, req)
		require.Equal(t, tc.want, rec.Code, "key %q", tc.key)
	}

	rec := httptest.NewRecorder()
	WithAPIKey("")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecover(t *testing.T) {
	h := WithRecover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}
	decode := func(raw string, limit int64) (body, error) {
		var b body
		var err error
		h := WithBodyLimit(limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err = DecodeJSON(r, &b)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(raw)))
		return b, err
	}

	b, err := decode(`{"name":"x"}`, 1024)
	require.NoError(t, err)
	require.Equal(t, "x", b.Name)

	_, err = decode(`{"nope":1}`, 1024)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, DecodeStatus(err))

	_, err = decode(`{"name":"`+strings.Repeat("a", 100)+`"}`, 16)
	require.ErrorIs(t, err, ErrBodyTooLarge)
	require.Equal(t, http.StatusRequestEntityTooLarge, DecodeStatus(err))

	_, err = decode(``, 1024)
	require.Error(t, err)
}

func TestMemoryRateLimiter(t *testing.T) {
	rl := NewMemoryRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "a")
	require.False(t, ok)

	ok, _ = rl.Allow(ctx, "b")
	require.True(t, ok, "buckets are per client")

	now = now.Add(30 * time.Second)
	ok, _ = rl.Allow(ctx, "a")
	require.True(t, ok, "one token refills every 30s")
}

type limiterFunc func(context.Context, string) (bool, error)

func (f limiterFunc) Allow(ctx context.Context, key string) (bool, error) { return f(ctx, key) }

func TestWithRateLimit(t *testing.T) {
	serve := func(l Limiter, failOpen bool, forwarded string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		WithRateLimit(l, discardLogger(), failOpen)(okHandler()).ServeHTTP(rec, req)
		return rec.Code
	}

	var seen string
	deny := limiterFunc(func(_ context.Context, key string) (bool, error) {
		seen = key
		return false, nil
	})
	require.Equal(t, http.StatusTooManyRequests, serve(deny, false, "10.0.0.1, 10.0.0.2"))
	require.Equal(t, "10.0.0.1", seen)

	broken := limiterFunc(func(context.Context, string) (bool, error) { return false, errors.New("down") })
	require.Equal(t, http.StatusServiceUnavailable, serve(broken, false, ""))
	require.Equal(t, http.StatusOK, serve(broken, true, ""))
}

func TestAccessLogCapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := WithAccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))
	require.Contains(t, buf.String(), `"status":418`)
	require.Contains(t, buf.String(), `"path":"/brew"`)
}

func TestAccessLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := WithAccessLog(logger)(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Empty(t, buf.String(), "probes log at debug")

	require.Equal(t, slog.LevelWarn, accessLevel("/pubsub/push", http.StatusInternalServerError))
	require.Equal(t, slog.LevelWarn, accessLevel("/readyz", http.StatusServiceUnavailable))
	require.Equal(t, slog.LevelInfo, accessLevel("/workflows", http.StatusNotFound))
}

func TestRedisBucketKey(t *testing.T) {
	rl := NewRedisRateLimiter(nil, 10, time.Minute, "")
	rl.now = func() time.Time { return time.Unix(125, 0) }
	require.Equal(t, "rl:10.0.0.1:2", rl.bucketKey("10.0.0.1"))

	rl.now = func() time.Time { return time.Unix(179, 0) }
	require.Equal(t, "rl:10.0.0.1:2", rl.bucketKey("10.0.0.1"), "same window")

	rl.now = func() time.Time { return time.Unix(180, 0) }
	require.Equal(t, "rl:10.0.0.1:3", rl.bucketKey("10.0.0.1"))
}
