// Package config loads the quarantine host configuration. JSON (comments
// allowed) and TOML files are accepted; missing fields take defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
)

// Config is the top-level host configuration.
type Config struct {
	Isolation IsolationConfig `json:"isolation" toml:"isolation"`
	Scanner   ScannerConfig   `json:"scanner" toml:"scanner"`
	Protocol  ProtocolConfig  `json:"protocol" toml:"protocol"`
	Control   ControlConfig   `json:"control" toml:"control"`
}

// IsolationConfig controls where quarantined files live.
type IsolationConfig struct {
	// DefaultRoot replaces <executable-dir>/.isolated when set.
	DefaultRoot string `json:"defaultRoot,omitempty" toml:"default_root"`
	// LockFile serializes filesystem mutations across host processes.
	LockFile string `json:"lockFile,omitempty" toml:"lock_file"`
}

// ScannerConfig describes the remote analysis service contract.
type ScannerConfig struct {
	AnalyzeURL            string `json:"analyzeURL,omitempty" toml:"analyze_url"`
	ReportURL             string `json:"reportURL,omitempty" toml:"report_url"`
	PollIntervalSeconds   *int   `json:"pollIntervalSeconds,omitempty" toml:"poll_interval_seconds"`
	MaxAttempts           *int   `json:"maxAttempts,omitempty" toml:"max_attempts"`
	RequestTimeoutSeconds *int   `json:"requestTimeoutSeconds,omitempty" toml:"request_timeout_seconds"`
	UploadsPerMinute      *int   `json:"uploadsPerMinute,omitempty" toml:"uploads_per_minute"`
	SaveReports           *bool  `json:"saveReports,omitempty" toml:"save_reports"`
	MaxDetailsChars       *int   `json:"maxDetailsChars,omitempty" toml:"max_details_chars"`
}

// ProtocolConfig controls the framed stdio channel.
type ProtocolConfig struct {
	ByteOrder string `json:"byteOrder,omitempty" toml:"byte_order"` // "native", "little" or "big"
}

// ControlConfig enables the optional loopback status server.
type ControlConfig struct {
	Addr string `json:"addr,omitempty" toml:"addr"` // empty disables the server
	Path string `json:"path,omitempty" toml:"path"`
}

const (
	ByteOrderNative = "native"
	ByteOrderLittle = "little"
	ByteOrderBig    = "big"

	DefaultAnalyzeURL            = "http://localhost:8081/analyze/"
	DefaultReportURL             = "http://localhost:8081/report/"
	DefaultPollIntervalSeconds   = 5
	DefaultMaxAttempts           = 3
	DefaultRequestTimeoutSeconds = 60
	DefaultUploadsPerMinute      = 30
	DefaultMaxDetailsChars       = 4000
	DefaultControlPath           = "/mcp"
	DefaultLockFileName          = ".quarantine.lock"
)

// Default returns a Config with every default applied.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads and parses a config file, applies defaults, and validates.
// Files ending in .toml are decoded as TOML; anything else as JSON with
// comments and trailing commas allowed.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	} else {
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Default when the file does
// not exist. The host is normally started by the browser with no arguments,
// so an absent config file is the common case.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func applyDefaults(cfg *Config) {
	if cfg.Scanner.AnalyzeURL == "" {
		cfg.Scanner.AnalyzeURL = DefaultAnalyzeURL
	}
	if cfg.Scanner.ReportURL == "" {
		cfg.Scanner.ReportURL = DefaultReportURL
	}
	if cfg.Scanner.PollIntervalSeconds == nil {
		cfg.Scanner.PollIntervalSeconds = intPtr(DefaultPollIntervalSeconds)
	}
	if cfg.Scanner.MaxAttempts == nil {
		cfg.Scanner.MaxAttempts = intPtr(DefaultMaxAttempts)
	}
	if cfg.Scanner.RequestTimeoutSeconds == nil {
		cfg.Scanner.RequestTimeoutSeconds = intPtr(DefaultRequestTimeoutSeconds)
	}
	if cfg.Scanner.UploadsPerMinute == nil {
		cfg.Scanner.UploadsPerMinute = intPtr(DefaultUploadsPerMinute)
	}
	if cfg.Scanner.SaveReports == nil {
		cfg.Scanner.SaveReports = boolPtr(true)
	}
	if cfg.Scanner.MaxDetailsChars == nil {
		cfg.Scanner.MaxDetailsChars = intPtr(DefaultMaxDetailsChars)
	}

	if cfg.Protocol.ByteOrder == "" {
		cfg.Protocol.ByteOrder = ByteOrderNative
	}
	cfg.Protocol.ByteOrder = strings.ToLower(cfg.Protocol.ByteOrder)

	if cfg.Control.Path == "" {
		cfg.Control.Path = DefaultControlPath
	}
}

func validate(cfg Config) error {
	for name, raw := range map[string]string{
		"scanner.analyzeURL": cfg.Scanner.AnalyzeURL,
		"scanner.reportURL":  cfg.Scanner.ReportURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s: scheme must be http or https, got %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%s: host is required", name)
		}
	}

	if *cfg.Scanner.PollIntervalSeconds < 0 {
		return fmt.Errorf("scanner.pollIntervalSeconds must not be negative, got %d", *cfg.Scanner.PollIntervalSeconds)
	}
	if *cfg.Scanner.MaxAttempts < 1 {
		return fmt.Errorf("scanner.maxAttempts must be at least 1, got %d", *cfg.Scanner.MaxAttempts)
	}
	if *cfg.Scanner.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("scanner.requestTimeoutSeconds must be at least 1, got %d", *cfg.Scanner.RequestTimeoutSeconds)
	}
	if *cfg.Scanner.UploadsPerMinute < 0 {
		return fmt.Errorf("scanner.uploadsPerMinute must not be negative, got %d", *cfg.Scanner.UploadsPerMinute)
	}
	if *cfg.Scanner.MaxDetailsChars < 0 {
		return fmt.Errorf("scanner.maxDetailsChars must not be negative, got %d", *cfg.Scanner.MaxDetailsChars)
	}

	switch cfg.Protocol.ByteOrder {
	case ByteOrderNative, ByteOrderLittle, ByteOrderBig:
	default:
		return fmt.Errorf("protocol.byteOrder must be %q, %q or %q, got %q",
			ByteOrderNative, ByteOrderLittle, ByteOrderBig, cfg.Protocol.ByteOrder)
	}

	if cfg.Isolation.DefaultRoot != "" && !filepath.IsAbs(cfg.Isolation.DefaultRoot) {
		return fmt.Errorf("isolation.defaultRoot must be absolute, got %q", cfg.Isolation.DefaultRoot)
	}

	if !strings.HasPrefix(cfg.Control.Path, "/") {
		return fmt.Errorf("control.path must start with /, got %q", cfg.Control.Path)
	}

	return nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
