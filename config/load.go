package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a file with ENV interpolation.
// If configPath is empty, it searches default locations.
func Load(configPath string, getenv func(string) string) (*Config, error) {
	cfg, _, err := LoadWithPath(configPath, getenv)
	return cfg, err
}

// LoadWithPath reads configuration and returns both the config and the resolved path.
// When no config file exists in the default locations the defaults are used,
// relative to the working directory, and the returned path is empty.
// Production-only checks are deferred until Validate() is called after CLI
// flags (like --dev) have been applied.
func LoadWithPath(configPath string, getenv func(string) string) (*Config, string, error) {
	path, err := resolveConfigPath(configPath, getenv)
	if err != nil {
		return nil, "", err
	}

	cfg := Defaults()
	var absPath string
	if path == "" {
		// No config file - resolve relative paths against the working directory
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.BaseDir = wd
	} else {
		// Get absolute path and directory for resolving relative paths
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve config path: %w", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}

		// Interpolate environment variables
		data = interpolateEnv(data, getenv)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}

		// Set base directory for resolving relative paths
		cfg.BaseDir = filepath.Dir(absPath)
	}

	// Resolve relative paths against the config directory
	if cfg.Scripts.Root != "" && !filepath.IsAbs(cfg.Scripts.Root) {
		cfg.Scripts.Root = filepath.Join(cfg.BaseDir, cfg.Scripts.Root)
	}
	if cfg.Dev.FaultLog != "" && !filepath.IsAbs(cfg.Dev.FaultLog) {
		cfg.Dev.FaultLog = filepath.Join(cfg.BaseDir, cfg.Dev.FaultLog)
	}

	// Normalize extensions to lower case with a leading dot
	normalizeExtensions(cfg.Scripts.Extensions)
	normalizeExtensions(cfg.Scripts.DenyExtensions)

	// Run mode-independent validation only - production checks deferred until Validate()
	if err := validateBasic(cfg); err != nil {
		return nil, "", err
	}

	return cfg, absPath, nil
}

// Validate performs full configuration validation including production-only
// settings. Call this after applying CLI overrides (like --dev).
func Validate(cfg *Config) error {
	if err := validateBasic(cfg); err != nil {
		return err
	}
	return validateProduction(cfg)
}

// Warnings returns non-fatal configuration issues that should be reported to the user.
func Warnings(cfg *Config) []string {
	var warnings []string

	// Warn if the site root is missing - nothing can be served
	if info, err := os.Stat(cfg.Scripts.Root); err != nil || !info.IsDir() {
		warnings = append(warnings, fmt.Sprintf("scripts.root %s is not a directory - every request will return 404", cfg.Scripts.Root))
	}

	// Compression enabled but doing nothing
	if cfg.Compression.Enabled && cfg.Compression.Level == "none" {
		warnings = append(warnings, "compression: enabled with level 'none' - responses will not be compressed")
	}

	// Production warnings
	if !cfg.Server.Dev && cfg.Session.Secure != nil && !*cfg.Session.Secure {
		warnings = append(warnings, "session: secure is false in production mode - session cookies will be sent over plain HTTP")
	}

	if !cfg.Server.Dev && cfg.InstrumentedRuns() {
		warnings = append(warnings, "scripts: instrumented in production mode - fault positions are reported to clients")
	}

	return warnings
}

// resolveConfigPath finds the config file to use.
// Search order: explicit path > SORREL_CONFIG env > ./sorrel.yaml > ./sorrel.yml
func resolveConfigPath(explicit string, getenv func(string) string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	// Check environment variable
	if envPath := getenv("SORREL_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("SORREL_CONFIG file not found: %s", envPath)
		}
		return envPath, nil
	}

	// Check default locations
	for _, name := range []string{"sorrel.yaml", "sorrel.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}

	return "", nil
}

// envPattern matches ${VAR} or ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnv replaces ${VAR} and ${VAR:-default} patterns with environment values.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := getenv(string(parts[1]))

		// Use default if value is empty
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}

		return []byte(value)
	})
}

// normalizeExtensions lower-cases each extension and adds the leading dot.
func normalizeExtensions(exts []string) {
	for i, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[i] = ext
	}
}

// validateBasic checks configuration that applies in every mode.
func validateBasic(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port: %d (must be 1-65535)", cfg.Server.Port))
	}

	// Scripts validation
	if cfg.Scripts.Root == "" {
		errs = append(errs, "scripts.root is required")
	}
	if len(cfg.Scripts.Extensions) == 0 {
		errs = append(errs, "scripts.extensions must list at least one extension")
	}
	for i, ext := range cfg.Scripts.Extensions {
		if ext == "" || ext == "." {
			errs = append(errs, fmt.Sprintf("scripts.extensions[%d]: empty extension", i))
		}
	}
	for i, ext := range cfg.Scripts.DenyExtensions {
		if ext == "" || ext == "." {
			errs = append(errs, fmt.Sprintf("scripts.deny_extensions[%d]: empty extension", i))
		} else if slices.Contains(cfg.Scripts.Extensions, ext) {
			errs = append(errs, fmt.Sprintf("scripts.deny_extensions[%d]: %s is also a page extension", i, ext))
		}
	}
	for i, doc := range cfg.Scripts.DefaultDocuments {
		if doc == "" || strings.ContainsAny(doc, `/\`) {
			errs = append(errs, fmt.Sprintf("scripts.default_documents[%d]: must be a plain file name", i))
		}
	}
	if cfg.Scripts.Charset != "" {
		if _, err := htmlindex.Get(cfg.Scripts.Charset); err != nil {
			errs = append(errs, fmt.Sprintf("scripts.charset: unknown encoding %q", cfg.Scripts.Charset))
		}
	}
	if cfg.Scripts.Timeout < 0 {
		errs = append(errs, "scripts.timeout must not be negative")
	}
	if cfg.Scripts.CallStackSize < 0 {
		errs = append(errs, "scripts.call_stack_size must not be negative")
	}

	// Session validation
	if cfg.Session.CookieName == "" {
		errs = append(errs, "session.cookie_name is required")
	}
	if !slices.Contains([]string{"Lax", "Strict", "None"}, cfg.Session.SameSite) {
		errs = append(errs, fmt.Sprintf("session.same_site: %q (must be Lax, Strict, or None)", cfg.Session.SameSite))
	}
	if cfg.Session.MaxAge <= 0 {
		errs = append(errs, "session.max_age must be positive")
	}

	// Security validation
	if cfg.Security.HSTS.Enabled {
		if n, err := strconv.Atoi(cfg.Security.HSTS.MaxAge); err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("security.hsts.max_age: %q must be a number of seconds", cfg.Security.HSTS.MaxAge))
		}
	}
	for i, ip := range cfg.Server.Proxy.TrustedIPs {
		if net.ParseIP(ip) == nil {
			errs = append(errs, fmt.Sprintf("server.proxy.trusted_ips[%d]: invalid IP %q", i, ip))
		}
	}

	// Compression validation
	if !slices.Contains([]string{"fastest", "default", "best", "none"}, cfg.Compression.Level) {
		errs = append(errs, fmt.Sprintf("invalid compression level: %s (must be fastest, default, best, or none)", cfg.Compression.Level))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be json or text)", cfg.Logging.Format))
	}

	// Dev validation
	if _, err := ParseSize(cfg.Dev.FaultLogMaxSize); err != nil {
		errs = append(errs, fmt.Sprintf("dev.fault_log_max_size: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateProduction checks settings that only matter outside dev mode.
func validateProduction(cfg *Config) error {
	if cfg.Server.Dev {
		return nil
	}

	var errs []string

	// Session secret must be explicit in production
	secret := cfg.Session.Secret
	if secret.Value() == "" || secret.IsAuto() {
		errs = append(errs, "production mode requires session.secret (use ${SORREL_SESSION_SECRET} or a !secret value)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ParseSize parses a size string like "10MB", "1GB", "500KB" to bytes.
// Supports: B, KB, MB, GB (case insensitive).
// Returns 0 for empty string.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	s = strings.TrimSpace(strings.ToUpper(s))

	// Check suffixes in order of length (longest first) to avoid "B" matching before "MB"
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			var num int64
			if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			return num * sf.mult, nil
		}
	}

	var num int64
	if _, err := fmt.Sscanf(s, "%d", &num); err != nil {
		return 0, fmt.Errorf("invalid size format: %s (use B, KB, MB, or GB suffix)", s)
	}
	return num, nil
}
