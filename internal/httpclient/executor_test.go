package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/rate"
)

const rfqBody = `{"underlying":"NVDAx","optionType":"CALL","expiry":1767225600000,"strike":150,"size":1000}`

type createReply struct {
	Success bool   `json:"success"`
	RfqID   string `json:"rfqId"`
}

type routerError struct {
	Status  int
	Message string   `json:"error"`
	Details []string `json:"details"`
}

func (e *routerError) Error() string { return e.Message }

func decodeRouterError(status int, body []byte) error {
	e := &routerError{Status: status}
	_ = json.Unmarshal(body, e)
	return e
}

// fakeRouter answers POST /rfq with the scripted statuses in order, then 200.
type fakeRouter struct {
	mu       sync.Mutex
	statuses []int
	headers  map[string]string
	bodies   []string
}

func (f *fakeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(b))
	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	for k, v := range f.headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	switch {
	case status == http.StatusOK:
		_, _ = w.Write([]byte(`{"success":true,"rfqId":"rfq-1"}`))
	case status == http.StatusTooManyRequests:
		_, _ = w.Write([]byte(`{"error":"Too many requests"}`))
	case status >= 500:
		_, _ = w.Write([]byte(`{"error":"Internal error"}`))
	}
}

func (f *fakeRouter) attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func postRfq(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url+"/rfq", bytes.NewReader([]byte(rfqBody)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestDoJSON_DecodesCreateReply(t *testing.T) {
	router := &fakeRouter{}
	srv := httptest.NewServer(router)
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 2, "rfq_router", decodeRouterError)

	var out createReply
	require.NoError(t, exec.DoJSON(context.Background(), postRfq(t, srv.URL), srv.URL, &out))
	assert.True(t, out.Success)
	assert.Equal(t, "rfq-1", out.RfqID)
	require.Len(t, router.attempts(), 1)
	assert.JSONEq(t, rfqBody, router.attempts()[0])
}

func TestDoJSON_RouterRestartResendsRfqBody(t *testing.T) {
	router := &fakeRouter{statuses: []int{http.StatusServiceUnavailable, http.StatusBadGateway}}
	srv := httptest.NewServer(router)
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 2, "rfq_router", decodeRouterError)

	var out createReply
	require.NoError(t, exec.DoJSON(context.Background(), postRfq(t, srv.URL), srv.URL, &out))
	assert.Equal(t, "rfq-1", out.RfqID)

	bodies := router.attempts()
	require.Len(t, bodies, 3)
	for i, b := range bodies {
		assert.JSONEq(t, rfqBody, b, "attempt %d carried a truncated body", i)
	}
}

func TestDoJSON_RateLimitedByRouterIsRetried(t *testing.T) {
	router := &fakeRouter{
		statuses: []int{http.StatusTooManyRequests},
		headers:  map[string]string{"X-RateLimit-Limit": "100", "X-RateLimit-Remaining": "0"},
	}
	srv := httptest.NewServer(router)
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 1, "rfq_router", decodeRouterError)

	var out createReply
	require.NoError(t, exec.DoJSON(context.Background(), postRfq(t, srv.URL), srv.URL, &out))
	assert.Len(t, router.attempts(), 2)
	assert.True(t, out.Success)
}

func TestDoJSON_RateLimitedUntilBudgetSpent(t *testing.T) {
	router := &fakeRouter{statuses: []int{http.StatusTooManyRequests, http.StatusTooManyRequests}}
	srv := httptest.NewServer(router)
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 1, "rfq_router", decodeRouterError)

	err := exec.DoJSON(context.Background(), postRfq(t, srv.URL), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusTooManyRequests))
	assert.Contains(t, err.Error(), "failed after 1 attempts")
}

func TestDoJSON_ValidationFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Validation failed","details":["strike must be a positive number"]}`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 3, "rfq_router", decodeRouterError)

	err := exec.DoJSON(context.Background(), postRfq(t, srv.URL), srv.URL, nil)
	var re *routerError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadRequest, re.Status)
	assert.Equal(t, "Validation failed", re.Message)
	assert.Equal(t, []string{"strike must be a positive number"}, re.Details)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoJSON_UnknownRfqIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rfq/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"RFQ not found"}`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 2, "rfq_router", nil)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/rfq/missing", nil)

	err := exec.DoJSON(context.Background(), req, srv.URL, nil)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(err, http.StatusConflict))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.JSONEq(t, `{"error":"RFQ not found"}`, string(se.Body))
}

func TestDoJSON_RouterDownExhaustsRetries(t *testing.T) {
	router := &fakeRouter{statuses: []int{500, 500, 500}}
	srv := httptest.NewServer(router)
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 2, "rfq_router", decodeRouterError)

	err := exec.DoJSON(context.Background(), postRfq(t, srv.URL), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rfq_router server error: 500")
	assert.Len(t, router.attempts(), 3)
}

func TestDoJSON_MalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rfqs":`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), nil, srv.Client(), 0, "rfq_router", nil)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/rfqs", nil)

	var out map[string]any
	err := exec.DoJSON(context.Background(), req, srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode failed")
}

func TestDoJSON_CancelledWhileRouterUnavailable(t *testing.T) {
	router := &fakeRouter{statuses: []int{503, 503, 503, 503, 503, 503}}
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := New(zap.NewNop(), nil, srv.Client(), 5, "rfq_router", decodeRouterError)
	assert.ErrorIs(t, exec.DoJSON(ctx, postRfq(t, srv.URL), srv.URL, nil), context.Canceled)
}

func TestDoJSON_ClientSideBudgetPerRouter(t *testing.T) {
	router := &fakeRouter{}
	srv := httptest.NewServer(router)
	defer srv.Close()

	mgr := rate.NewManager(rate.Config{RequestsPerSecond: 1, Burst: 1})
	exec := New(zap.NewNop(), mgr, srv.Client(), 0, "rfq_router", decodeRouterError)

	require.NoError(t, exec.DoJSON(context.Background(), postRfq(t, srv.URL), srv.URL, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := exec.DoJSON(ctx, postRfq(t, srv.URL), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Len(t, router.attempts(), 1)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryAfter("2", time.Millisecond))
	assert.Equal(t, maxRetryAfter, retryAfter("120", time.Millisecond))
	assert.Equal(t, time.Millisecond, retryAfter("soon", time.Millisecond))
	assert.Equal(t, time.Millisecond, retryAfter("", time.Millisecond))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(0))
	assert.Equal(t, 250*time.Millisecond, Backoff(1))
	assert.Equal(t, 500*time.Millisecond, Backoff(7))
}
