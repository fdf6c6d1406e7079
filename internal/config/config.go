// Package config loads configuration from environment variables.
// A .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv reads a .env file from the working directory into the
// environment. Called from the Load* entrypoints, not at import time, so
// merely linking this package never touches the filesystem. Existing env
// vars win.
func loadDotEnv() {
	_ = godotenv.Load()
}

// Server holds storage-server configuration.
type Server struct {
	ListenAddr    string
	MetricsAddr   string
	DataDir       string
	MaxUploadSize int64

	LogLevel  string
	LogFormat string
}

// Proxy holds auth-proxy configuration.
type Proxy struct {
	ListenAddr  string
	MetricsAddr string
	UpstreamURL string

	ProtectedDatasets []string
	Username          string
	PasswordHash      string

	LogLevel  string
	LogFormat string
}

// Watcher holds configuration shared by the watcher daemon and the bulk tools.
type Watcher struct {
	ProjectRoot     string
	WatchedDirs     []string
	DebounceSeconds int
	MaxFileSize     int64
	WatchPatterns   []string
	IgnorePatterns  []string
	SyncPatterns    []string
	JournalPath     string

	LocalURL  string
	ServerURL string

	ProtectedDatasets []string
	Username          string

	LogLevel  string
	LogFormat string
}

// LoadServer reads server configuration with defaults.
func LoadServer() (*Server, error) {
	loadDotEnv()
	cfg := &Server{
		ListenAddr:    envOr("LISTEN_ADDR", ":8000"),
		MetricsAddr:   envOr("METRICS_ADDR", ":9100"),
		DataDir:       envOr("DATA_DIR", "./data"),
		MaxUploadSize: envInt64("MAX_UPLOAD_SIZE", 50*1024*1024),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "console"),
	}

	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve DATA_DIR: %w", err)
	}
	cfg.DataDir = abs
	return cfg, nil
}

// LoadProxy reads proxy configuration. The protected dataset list and the
// password hash are required: a proxy with nothing to protect is a
// misconfiguration, not a passthrough.
func LoadProxy() (*Proxy, error) {
	loadDotEnv()
	cfg := &Proxy{
		ListenAddr:        envOr("PROXY_LISTEN_ADDR", ":3000"),
		MetricsAddr:       envOr("PROXY_METRICS_ADDR", ":9101"),
		UpstreamURL:       envOr("UPSTREAM_URL", "http://localhost:8000"),
		ProtectedDatasets: envList("PROTECTED_DATASETS", nil),
		Username:          envOr("PROTECTED_CONTENT_USERNAME", "researcher"),
		PasswordHash:      envOr("PROTECTED_CONTENT_PASSWORD_HASH", ""),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "console"),
	}

	if len(cfg.ProtectedDatasets) == 0 {
		return nil, fmt.Errorf("PROTECTED_DATASETS is required")
	}
	if cfg.PasswordHash == "" {
		return nil, fmt.Errorf("PROTECTED_CONTENT_PASSWORD_HASH is required")
	}
	return cfg, nil
}

// LoadWatcher reads watcher/tool configuration. PROJECT_ROOT must exist.
func LoadWatcher() (*Watcher, error) {
	loadDotEnv()
	cfg := &Watcher{
		ProjectRoot:     envOr("PROJECT_ROOT", ""),
		WatchedDirs:     envList("WATCHED_DIRS", []string{"outputs/chunks", "outputs/summaries", "prompts"}),
		DebounceSeconds: envInt("DEBOUNCE_SECONDS", 2),
		MaxFileSize:     envInt64("MAX_FILE_SIZE", 50*1024*1024),
		WatchPatterns:   envList("WATCH_PATTERNS", nil),
		IgnorePatterns:  envList("IGNORE_PATTERNS", []string{"*.tmp", "*.temp", ".DS_Store", "*.swp", "*.lock"}),
		SyncPatterns:    envList("SYNC_PATTERNS", []string{"*.json", "*.txt"}),
		JournalPath:     envOr("JOURNAL_PATH", ""),
		LocalURL:        envOr("LOCAL_URL", "http://localhost:8000"),
		ServerURL:       envOr("SERVER_URL", ""),

		ProtectedDatasets: envList("PROTECTED_DATASETS", nil),
		Username:          envOr("PROTECTED_CONTENT_USERNAME", "researcher"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "console"),
	}

	if cfg.ProjectRoot == "" {
		return nil, fmt.Errorf("PROJECT_ROOT is required")
	}
	abs, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve PROJECT_ROOT: %w", err)
	}
	cfg.ProjectRoot = abs
	if info, err := os.Stat(cfg.ProjectRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("PROJECT_ROOT %s is not a directory", cfg.ProjectRoot)
	}
	if cfg.DebounceSeconds < 1 {
		cfg.DebounceSeconds = 1
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.ProjectRoot, ".ius-dashboard", "journal.db")
	}
	return cfg, nil
}

// TargetURLs resolves the --target flag value into the upload base URLs.
func (c *Watcher) TargetURLs(target string) ([]string, error) {
	switch target {
	case "local":
		return []string{c.LocalURL}, nil
	case "server":
		if c.ServerURL == "" {
			return nil, fmt.Errorf("SERVER_URL is required for --target server")
		}
		return []string{c.ServerURL}, nil
	case "both":
		if c.ServerURL == "" {
			return nil, fmt.Errorf("SERVER_URL is required for --target both")
		}
		return []string{c.LocalURL, c.ServerURL}, nil
	default:
		return nil, fmt.Errorf("invalid --target %q (want local, server, or both)", target)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
