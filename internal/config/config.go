// Package config loads runtime settings from the environment, with .env
// support for local development.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// DownloadDir is the sandbox root for fetched artifact content.
	DownloadDir string
	// TrustFile persists download consent across sessions.
	TrustFile string

	HTTPTimeout   time.Duration
	MaxFetchBytes int64
	UserAgent     string

	// ExcludeGlobs are doublestar patterns removed from the workspace
	// index, comma-separated in REPATH_EXCLUDES.
	ExcludeGlobs []string

	Mirror MirrorConfig
}

// MirrorConfig points at an optional S3-compatible mirror of analyzed
// sources, used when provenance carries s3 repository URIs.
type MirrorConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Load reads configuration from the environment. Defaults keep the resolver
// usable with nothing set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DownloadDir:   strings.TrimSpace(os.Getenv("REPATH_DOWNLOAD_DIR")),
		TrustFile:     strings.TrimSpace(os.Getenv("REPATH_TRUST_FILE")),
		HTTPTimeout:   30 * time.Second,
		MaxFetchBytes: 32 << 20,
		UserAgent:     firstNonEmpty(os.Getenv("REPATH_USER_AGENT"), "repath/1.0"),
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(os.TempDir(), "repath", "downloads")
	}
	if cfg.TrustFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.TrustFile = filepath.Join(dir, "repath", "trusted_hosts.yaml")
		}
	}
	if raw := strings.TrimSpace(os.Getenv("REPATH_HTTP_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.HTTPTimeout = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("REPATH_MAX_FETCH_BYTES")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			cfg.MaxFetchBytes = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("REPATH_EXCLUDES")); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				cfg.ExcludeGlobs = append(cfg.ExcludeGlobs, g)
			}
		}
	}
	cfg.Mirror = loadMirror()
	return cfg, nil
}

func loadMirror() MirrorConfig {
	endpoint := strings.TrimSpace(os.Getenv("REPATH_MIRROR_ENDPOINT"))
	return MirrorConfig{
		Enabled:  endpoint != "",
		Endpoint: endpoint,
		Region:   firstNonEmpty(os.Getenv("REPATH_MIRROR_REGION"), "us-east-1"),
		// MINIO_ROOT_* keeps a locally started MinIO usable without
		// duplicating its credentials.
		AccessKey: firstNonEmpty(os.Getenv("REPATH_MIRROR_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(os.Getenv("REPATH_MIRROR_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD")),
		UseSSL:    mirrorUseSSL(),
	}
}

func mirrorUseSSL() bool {
	raw := strings.TrimSpace(os.Getenv("REPATH_MIRROR_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
