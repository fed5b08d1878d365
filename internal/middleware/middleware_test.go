package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sigsummary/internal/metrics"
	"sigsummary/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)
	return logger, &buf
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trustProxy bool
		want       string
	}{
		{"remote addr", nil, "192.168.1.1:1234", false, "192.168.1.1"},
		{"ipv6 remote addr", nil, "[::1]:8080", false, "::1"},
		{"remote addr without port", nil, "10.0.0.1", false, "10.0.0.1"},
		{"forwarded ignored without trust", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.1:1", false, "10.0.0.1"},
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 1.2.3.4 , 5.6.7.8"}, "10.0.0.1:1", true, "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "9.9.9.9"}, "10.0.0.1:1", true, "9.9.9.9"},
		{"empty forwarded falls back", map[string]string{"X-Forwarded-For": " ,"}, "10.0.0.1:1", true, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trustProxy))
		})
	}
}

func TestObservability_RecordsRouteTemplate(t *testing.T) {
	logger, buf := captureLogger()

	router := mux.NewRouter()
	router.Use(Observability(logger, false))
	router.HandleFunc("/api/schedules/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, tracing.GetRequestID(r.Context()))
		w.WriteHeader(http.StatusNotFound)
	})

	before := metrics.GetAllMetrics().Counters
	req := httptest.NewRequest(http.MethodGet, "/api/schedules/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get(RequestIDHeader), "req_"))

	key := "sigsummary_http_requests_total_method:GET_route:/api/schedules/{id}_status:404"
	after := metrics.GetAllMetrics().Counters
	assert.Equal(t, before[key]+1, after[key])

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "/api/schedules/{id}", entry["route"])
	assert.Equal(t, float64(404), entry["status_code"])
}

func TestObservability_HealthLoggedAtDebug(t *testing.T) {
	logger, buf := captureLogger()
	router := mux.NewRouter()
	router.Use(Observability(logger, false))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, float64(2), entry["size"])
}

func TestObservability_UnmatchedRoute(t *testing.T) {
	logger, _ := captureLogger()
	handler := Observability(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	key := "sigsummary_http_requests_total_method:GET_route:unmatched_status:200"
	assert.Positive(t, metrics.GetAllMetrics().Counters[key])
}

func TestRecover(t *testing.T) {
	logger, buf := captureLogger()
	handler := Recover(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "boom")
}

func TestResponseWrapper_KeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	_, _ = rw.Write([]byte("hello"))
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.EqualValues(t, 5, rw.responseSize)
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(10, 100*time.Millisecond)

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("127.0.0.1") {
			allowed++
		}
	}

	assert.Equal(t, 10, allowed)
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(5, 100*time.Millisecond)
	ip := "192.168.1.1"

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip), "request %d", i+1)
	}
	assert.False(t, rl.Allow(ip))

	time.Sleep(120 * time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip), "request %d after refill", i+1)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiter_ZeroAndNegativeLimit(t *testing.T) {
	assert.False(t, NewRateLimiter(0, time.Second).Allow("a"))
	assert.False(t, NewRateLimiter(-1, time.Second).Allow("a"))
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	for i := 0; i < 100; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, 100, rl.size())

	time.Sleep(60 * time.Millisecond)
	rl.Allow("10.0.1.1")

	assert.Equal(t, 1, rl.size())
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(10, time.Hour)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, allowed.Load())
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	handler := RateLimit(rl, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "10.1.1.1:5000"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests, slow down", body["error"]["message"])
}
