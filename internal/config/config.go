// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/stembot/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete stembot configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Ollama    OllamaConfig    `toml:"ollama"`
	Storage   StorageConfig   `toml:"storage"`
	Export    ExportConfig    `toml:"export"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Addr               string  `toml:"addr"`
	SessionIdleMinutes int     `toml:"session_idle_minutes"` // connection state expiry
	RateLimit          float64 `toml:"rate_limit"`           // requests per second per client IP
	RateBurst          int     `toml:"rate_burst"`
	MaxUploadMB        int     `toml:"max_upload_mb"`
	SecureCookies      bool    `toml:"secure_cookies"`
	MessagesPerPage    int     `toml:"messages_per_page"`
}

// OllamaConfig contains inference server settings.
type OllamaConfig struct {
	BaseURL            string `toml:"base_url"`
	DefaultModel       string `toml:"default_model"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs"`
	CatalogTTLSecs     int    `toml:"catalog_ttl_secs"`
}

// StorageConfig contains data directory and session backend settings.
type StorageConfig struct {
	DataDir    string `toml:"data_dir"`
	Backend    string `toml:"backend"`     // "file" or "sqlite"
	SQLiteFile string `toml:"sqlite_file"` // relative to data_dir unless absolute
}

// ExportConfig contains document branding.
type ExportConfig struct {
	LogoPath      string `toml:"logo_path"`
	FontDir       string `toml:"font_dir"`
	WatermarkText string `toml:"watermark_text"`
}

// LoggingConfig contains structured log settings.
type LoggingConfig struct {
	Level      string `toml:"level"` // debug, info, warn, error
	File       string `toml:"file"`  // relative to data_dir unless absolute
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
	Stderr     bool   `toml:"stderr"`
}

// TelemetryConfig contains OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"` // relative to data_dir unless absolute
}

// =============================================================================
// DEFAULT CONFIG
// =============================================================================

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// DefaultPath is the config file used when STEMBOT_CONFIG is unset.
const DefaultPath = "stembot.toml"

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               "127.0.0.1:8501",
			SessionIdleMinutes: 30,
			RateLimit:          10,
			RateBurst:          20,
			MaxUploadMB:        20,
			SecureCookies:      false,
			MessagesPerPage:    10,
		},
		Ollama: OllamaConfig{
			BaseURL:            "http://localhost:11434",
			DefaultModel:       "STEMBot-4B",
			RequestTimeoutSecs: 600,
			CatalogTTLSecs:     300,
		},
		Storage: StorageConfig{
			DataDir:    ".",
			Backend:    BackendFile,
			SQLiteFile: "stembot.db",
		},
		Export: ExportConfig{
			WatermarkText: "IKM Besut",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       filepath.Join("logs", "stembot.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
			Stderr:     true,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			File:    filepath.Join("logs", "telemetry.jsonl"),
		},
	}
}

// =============================================================================
// DERIVED PATHS
// =============================================================================

// resolve joins p onto the data directory unless it is absolute.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.DataDir, p)
}

// HistoryDir holds one directory of session documents per user.
func (c *Config) HistoryDir() string { return c.resolve("chat_sessions") }

// UploadDir holds raw uploads per user.
func (c *Config) UploadDir() string { return c.resolve("uploaded_files") }

// ExportDir receives exported documents.
func (c *Config) ExportDir() string { return c.resolve("exported_files") }

// UsersDir holds the credential file.
func (c *Config) UsersDir() string { return c.resolve("user_data") }

// UsersFile is the credential file.
func (c *Config) UsersFile() string { return filepath.Join(c.UsersDir(), "users.json") }

// FontDir is searched for the PDF Unicode font.
func (c *Config) FontDir() string { return c.resolve(c.Export.FontDir) }

// LogoPath is the image placed on Word and PDF exports.
func (c *Config) LogoPath() string { return c.resolve(c.Export.LogoPath) }

// UsageDir holds daily model usage summaries.
func (c *Config) UsageDir() string { return c.resolve("usage") }

// LogFile is the rotating structured log.
func (c *Config) LogFile() string { return c.resolve(c.Logging.File) }

// TelemetryFile receives exported spans and metrics.
func (c *Config) TelemetryFile() string { return c.resolve(c.Telemetry.File) }

// SQLitePath is the database used by the sqlite backend.
func (c *Config) SQLitePath() string { return c.resolve(c.Storage.SQLiteFile) }

// RequestTimeout is the ceiling for one chat request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Ollama.RequestTimeoutSecs) * time.Second
}

// CatalogTTL is how long a model listing is reused.
func (c *Config) CatalogTTL() time.Duration {
	return time.Duration(c.Ollama.CatalogTTLSecs) * time.Second
}

// SessionIdle is how long an idle connection keeps its state.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.Server.SessionIdleMinutes) * time.Minute
}

// EnsureDirs creates every data directory the application writes to.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.HistoryDir(), c.UploadDir(), c.ExportDir(), c.UsersDir(), c.FontDir(), c.UsageDir()}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Path returns the config file path: explicit if given, else
// STEMBOT_CONFIG, else DefaultPath.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("STEMBOT_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadDotEnv loads .env files into the process environment. Variables that
// are already set win. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the config file at Path(path) if it exists, then applies
// environment overrides, defaults and validation. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	path = Path(path)
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Save writes cfg as TOML to path atomically.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# stembot configuration file\n")
	buf.WriteString("# Environment variables override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String returns the config as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	_ = toml.NewEncoder(&buf).Encode(c)
	return buf.String()
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.SessionIdleMinutes < 1 {
		add("server.session_idle_minutes", "must be at least 1, got %d", c.Server.SessionIdleMinutes)
	}
	if c.Server.RateLimit <= 0 {
		add("server.rate_limit", "must be positive, got %v", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1, got %d", c.Server.RateBurst)
	}
	if c.Server.MaxUploadMB < 1 || c.Server.MaxUploadMB > 100 {
		add("server.max_upload_mb", "must be between 1 and 100, got %d", c.Server.MaxUploadMB)
	}
	if c.Server.MessagesPerPage < 1 {
		add("server.messages_per_page", "must be at least 1, got %d", c.Server.MessagesPerPage)
	}

	// Ollama
	if u, err := url.Parse(c.Ollama.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("ollama.base_url", "invalid URL '%s', must be http(s)://host[:port]", c.Ollama.BaseURL)
	}
	if strings.TrimSpace(c.Ollama.DefaultModel) == "" {
		add("ollama.default_model", "must not be empty")
	}
	if c.Ollama.RequestTimeoutSecs < 1 || c.Ollama.RequestTimeoutSecs > 3600 {
		add("ollama.request_timeout_secs", "must be between 1 and 3600, got %d", c.Ollama.RequestTimeoutSecs)
	}
	if c.Ollama.CatalogTTLSecs < 0 {
		add("ollama.catalog_ttl_secs", "must not be negative, got %d", c.Ollama.CatalogTTLSecs)
	}

	// Storage
	if c.Storage.Backend != BackendFile && c.Storage.Backend != BackendSQLite {
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		add("storage.data_dir", "must not be empty")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 1 {
		add("logging.max_size_mb", "must be at least 1, got %d", c.Logging.MaxSizeMB)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.SessionIdleMinutes == 0 {
		c.Server.SessionIdleMinutes = d.Server.SessionIdleMinutes
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = d.Server.RateLimit
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = d.Server.MaxUploadMB
	}
	if c.Server.MessagesPerPage == 0 {
		c.Server.MessagesPerPage = d.Server.MessagesPerPage
	}

	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = d.Ollama.BaseURL
	}
	c.Ollama.BaseURL = strings.TrimRight(c.Ollama.BaseURL, "/")
	if c.Ollama.DefaultModel == "" {
		c.Ollama.DefaultModel = d.Ollama.DefaultModel
	}
	if c.Ollama.RequestTimeoutSecs == 0 {
		c.Ollama.RequestTimeoutSecs = d.Ollama.RequestTimeoutSecs
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Storage.SQLiteFile == "" {
		c.Storage.SQLiteFile = d.Storage.SQLiteFile
	}

	if c.Export.LogoPath == "" {
		c.Export.LogoPath = "logo_ikm.jpg"
	}
	if c.Export.FontDir == "" {
		c.Export.FontDir = "fonts"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = d.Logging.File
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if c.Telemetry.File == "" {
		c.Telemetry.File = d.Telemetry.File
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OLLAMA_BASE_URL: overrides ollama.base_url
//   - DEFAULT_OLLAMA_MODEL: overrides ollama.default_model
//   - LOGO_IKM: overrides export.logo_path
//   - CHATBOT_WATERMARK_TEXT: overrides export.watermark_text
//   - STEMBOT_ADDR: overrides server.addr
//   - STEMBOT_DATA_DIR: overrides storage.data_dir
//   - STEMBOT_STORAGE_BACKEND: overrides storage.backend
//   - STEMBOT_LOG_LEVEL: overrides logging.level
//   - STEMBOT_REQUEST_TIMEOUT: overrides ollama.request_timeout_secs
//   - STEMBOT_TELEMETRY: overrides telemetry.enabled
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv("DEFAULT_OLLAMA_MODEL"); v != "" {
		c.Ollama.DefaultModel = v
	}
	if v := os.Getenv("LOGO_IKM"); v != "" {
		c.Export.LogoPath = v
	}
	if v, ok := os.LookupEnv("CHATBOT_WATERMARK_TEXT"); ok {
		c.Export.WatermarkText = v
	}
	if v := os.Getenv("STEMBOT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STEMBOT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("STEMBOT_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("STEMBOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STEMBOT_REQUEST_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Ollama.RequestTimeoutSecs = secs
		}
	}
	if v := os.Getenv("STEMBOT_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
