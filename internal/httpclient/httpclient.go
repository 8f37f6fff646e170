// Package httpclient provides the shared tuned HTTP clients: one with a
// request timeout for API calls (player_api, probes) and one without for
// long-lived stream bodies.
package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	// Streaming connects must fail fast so the failover chain can advance,
	// but the body itself must be allowed to run for hours.
	streamConnectTimeout = 10 * time.Second
)

var (
	defaultClient   *http.Client
	streamingClient *http.Client
)

func init() {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}
	defaultClient = &http.Client{
		Timeout:   DefaultTimeout,
		Transport: transport,
	}
	streamingClient = &http.Client{
		// No overall timeout: the response body is a live stream.
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			ResponseHeaderTimeout: streamConnectTimeout,
		},
	}
}

// Default returns the shared timeout-bounded client for API calls.
func Default() *http.Client {
	return defaultClient
}

// ForStreaming returns the shared client for proxied media bodies: header
// timeout only, no body deadline.
func ForStreaming() *http.Client {
	return streamingClient
}

// WithTimeout returns a client with the given timeout sharing the default
// transport configuration.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
