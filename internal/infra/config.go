package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverMemory   = "memory"
	StoreDriverFirebase = "firebase"
	StoreDriverPostgres = "postgres"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv              string
	Port                string
	HTTPReadTimeout     time.Duration
	HTTPWriteTimeout    time.Duration
	HTTPIdleTimeout     time.Duration
	RateLimitPerMin     int
	ClaudeAPIKey        string
	ClaudeModel         string
	ClaudeBaseURL       string
	ReplicateAPIKey     string
	ReplicateBaseURL    string
	ReplicatePollHosts  []string
	UpstreamCallTimeout time.Duration
	StoreDriver         string
	FirebaseDatabaseURL string
	FirebaseCredentials string
	DatabaseURL         string
	StorePollInterval   time.Duration
	SessionDebounce     time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// AI credentials are optional here; their absence is reported per request.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		ClaudeAPIKey:        strings.TrimSpace(os.Getenv("CLAUDE_API_KEY")),
		ClaudeModel:         getEnv("CLAUDE_MODEL", "claude-haiku-4-5-20251001"),
		ClaudeBaseURL:       getEnv("CLAUDE_BASE_URL", "https://api.anthropic.com/v1"),
		ReplicateAPIKey:     strings.TrimSpace(os.Getenv("REPLICATE_API_KEY")),
		ReplicateBaseURL:    getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		UpstreamCallTimeout: time.Second * time.Duration(getEnvInt("UPSTREAM_CALL_TIMEOUT_SECONDS", 25)),
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMemory)),
		FirebaseDatabaseURL: os.Getenv("FIREBASE_DATABASE_URL"),
		FirebaseCredentials: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StorePollInterval:   time.Millisecond * time.Duration(getEnvInt("STORE_POLL_INTERVAL_MS", 1000)),
		SessionDebounce:     time.Millisecond * time.Duration(getEnvInt("SESSION_DEBOUNCE_MS", 2000)),
	}
	cfg.ReplicatePollHosts = buildPollHostAllowlist(cfg.ReplicateBaseURL, os.Getenv("REPLICATE_POLL_HOSTS"))

	switch cfg.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverFirebase:
		if cfg.FirebaseDatabaseURL == "" {
			return nil, fmt.Errorf("FIREBASE_DATABASE_URL is required for store driver %q", cfg.StoreDriver)
		}
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for store driver %q", cfg.StoreDriver)
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

// buildPollHostAllowlist merges the provider base URL host with any explicitly
// configured hosts, lower-cased, de-duplicated and sorted.
func buildPollHostAllowlist(baseURL, extra string) []string {
	seen := map[string]struct{}{}
	if u, err := url.Parse(strings.TrimSpace(baseURL)); err == nil && u.Hostname() != "" {
		seen[strings.ToLower(u.Hostname())] = struct{}{}
	}
	for _, part := range strings.Split(extra, ",") {
		host := strings.ToLower(strings.TrimSpace(part))
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
