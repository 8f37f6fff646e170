package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{Retry429: true, Max429Wait: 50 * time.Millisecond, Retry5xx: true, Backoff5xx: time.Millisecond}
}

func TestDoWithRetryRecoversFrom5xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, testPolicy())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestDoWithRetryHonors429RetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, testPolicy())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || hits.Load() != 2 {
		t.Errorf("status = %d hits = %d, want 200 after one retry", resp.StatusCode, hits.Load())
	}
}

func TestDoWithRetryRetriesOnlyOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, testPolicy())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want the second 500 surfaced", resp.StatusCode)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want exactly 2", hits.Load())
	}
}

func TestDoWithRetryNeverRetries4xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, testPolicy())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1 (404 must not retry)", hits.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	max := 60 * time.Second
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"5", 5 * time.Second},
		{"9999", max},
		{"-3", time.Second},
		{"garbage", time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, max); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClientSeparation(t *testing.T) {
	if Default().Timeout == 0 {
		t.Error("API client has no timeout")
	}
	if ForStreaming().Timeout != 0 {
		t.Error("streaming client has a body deadline; long streams would be cut off")
	}
}
