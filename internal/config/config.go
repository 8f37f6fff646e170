package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings. Everything comes from XTUNER_* env
// vars; call LoadEnvFile(".env") before Load to use a .env file.
type Config struct {
	// HTTP surface
	ListenAddr   string // e.g. :5004
	BaseURL      string // address Plex uses to reach us, e.g. http://192.168.1.10:5004
	FriendlyName string
	DeviceAuth   string
	MaxConns     int // netutil connection cap; 0 = unlimited
	SSDPEnabled  bool

	// Storage + secrets
	DBPath    string
	SecretKey string // 64 hex chars (AES-256); required once accounts exist

	// Guide source
	XMLTVURL     string // file path or http(s) URL
	XMLTVTimeout time.Duration

	// Background sync
	SyncInterval     time.Duration // 0 disables periodic sync
	RematchAfterSync bool
}

func Load() *Config {
	c := &Config{
		ListenAddr:       getEnv("XTUNER_LISTEN", ":5004"),
		BaseURL:          os.Getenv("XTUNER_BASE_URL"),
		FriendlyName:     getEnv("XTUNER_FRIENDLY_NAME", "xtuner"),
		DeviceAuth:       getEnv("XTUNER_DEVICE_AUTH", "xtuner"),
		MaxConns:         getEnvInt("XTUNER_MAX_CONNS", 0),
		SSDPEnabled:      getEnvBool("XTUNER_SSDP", true),
		DBPath:           getEnv("XTUNER_DB", "./xtuner.db"),
		SecretKey:        os.Getenv("XTUNER_SECRET_KEY"),
		XMLTVURL:         os.Getenv("XTUNER_XMLTV_URL"),
		XMLTVTimeout:     getEnvDuration("XTUNER_XMLTV_TIMEOUT", 45*time.Second),
		SyncInterval:     getEnvDuration("XTUNER_SYNC_INTERVAL", 12*time.Hour),
		RematchAfterSync: getEnvBool("XTUNER_REMATCH_AFTER_SYNC", true),
	}
	if c.BaseURL == "" {
		// Plex needs an address it can dial back; loopback at least makes
		// single-host setups work out of the box.
		port := c.ListenAddr
		if i := strings.LastIndex(port, ":"); i >= 0 {
			port = port[i+1:]
		}
		c.BaseURL = "http://127.0.0.1:" + port
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	return c
}

// Validate reports configuration problems that would only surface later at
// an awkward moment (mid-stream, mid-sync).
func (c *Config) Validate() error {
	if c.SecretKey != "" && len(c.SecretKey) != 64 {
		return fmt.Errorf("XTUNER_SECRET_KEY must be 64 hex chars, got %d", len(c.SecretKey))
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("XTUNER_BASE_URL must be http(s), got %q", c.BaseURL)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
