package xtream

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/xtuner/xtuner/internal/httpclient"
	"github.com/xtuner/xtuner/internal/model"
)

// Client is a player_api.php client for one account. Requests are paced by
// the limiter — Xtream panels rate-limit aggressively and a 429 during sync
// poisons the whole batch.
type Client struct {
	BaseURL  string
	Username string
	Password string
	HTTP     *http.Client
	Limiter  *rate.Limiter
}

// NewClient builds a client with the shared API HTTP client and a default
// pace of 2 requests/second.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		Username: username,
		Password: password,
		HTTP:     httpclient.Default(),
		Limiter:  rate.NewLimiter(rate.Limit(2), 1),
	}
}

// LiveStream is one entry of get_live_streams.
type LiveStream struct {
	Num          int             `json:"num"`
	Name         string          `json:"name"`
	StreamType   string          `json:"stream_type"`
	StreamID     int             `json:"stream_id"`
	StreamIcon   string          `json:"stream_icon"`
	EPGChannelID string          `json:"epg_channel_id"`
	CategoryID   json.RawMessage `json:"category_id"` // string or number depending on panel
}

// Category is one entry of get_live_categories.
type Category struct {
	CategoryID   json.RawMessage `json:"category_id"`
	CategoryName string          `json:"category_name"`
}

type authResponse struct {
	UserInfo *struct {
		Auth           int    `json:"auth"`
		Status         string `json:"status"`
		MaxConnections string `json:"max_connections"`
	} `json:"user_info"`
}

func (c *Client) apiURL(action string) string {
	u := c.BaseURL + "/player_api.php?username=" + url.QueryEscape(c.Username) +
		"&password=" + url.QueryEscape(c.Password)
	if action != "" {
		u += "&action=" + url.QueryEscape(action)
	}
	return u
}

// get performs one paced API request and returns the decompressed body.
func (c *Client) get(ctx context.Context, action string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(action), nil)
	if err != nil {
		return nil, err
	}
	// Manual Accept-Encoding disables Go's transparent gzip, so both
	// encodings are decoded below. Several panels only offer brotli.
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", "xtuner/1.0")
	resp, err := httpclient.DoWithRetry(ctx, c.HTTP, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, model.ErrUpstreamAuth
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player_api %q: HTTP %d", action, resp.StatusCode)
	}
	var body io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		body = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("player_api %q: gzip: %w", action, err)
		}
		defer gz.Close()
		body = gz
	}
	return io.ReadAll(io.LimitReader(body, 64<<20))
}

// Authenticate performs the credential round-trip. model.ErrUpstreamAuth when
// the panel answers but rejects the account.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := c.get(ctx, "")
	if err != nil {
		return err
	}
	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return fmt.Errorf("auth response: %w", err)
	}
	if auth.UserInfo == nil || auth.UserInfo.Auth != 1 {
		return model.ErrUpstreamAuth
	}
	return nil
}

// LiveStreams fetches the account's live stream catalog.
func (c *Client) LiveStreams(ctx context.Context) ([]LiveStream, error) {
	body, err := c.get(ctx, "get_live_streams")
	if err != nil {
		return nil, err
	}
	var out []LiveStream
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("get_live_streams: %w", err)
	}
	return out, nil
}

// LiveCategories fetches the category id -> name table.
func (c *Client) LiveCategories(ctx context.Context) (map[string]string, error) {
	body, err := c.get(ctx, "get_live_categories")
	if err != nil {
		return nil, err
	}
	var cats []Category
	if err := json.Unmarshal(body, &cats); err != nil {
		return nil, fmt.Errorf("get_live_categories: %w", err)
	}
	out := make(map[string]string, len(cats))
	for _, cat := range cats {
		out[rawID(cat.CategoryID)] = cat.CategoryName
	}
	return out, nil
}

// rawID normalizes category ids, which panels return as either "12" or 12.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}
