package config

import "time"

// Config represents the complete Sorrel configuration
type Config struct {
	BaseDir     string            `yaml:"-"` // Directory containing config file, for resolving relative paths
	Server      ServerConfig      `yaml:"server"`
	Scripts     ScriptsConfig     `yaml:"scripts"`
	Session     SessionConfig     `yaml:"session"`
	Security    SecurityConfig    `yaml:"security"`
	Compression CompressionConfig `yaml:"compression"`
	Logging     LoggingConfig     `yaml:"logging"`
	Dev         DevConfig         `yaml:"dev"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Dev  bool   `yaml:"-"` // Set via CLI flag, not config

	Proxy ProxyConfig `yaml:"proxy"`
}

// ProxyConfig holds reverse proxy settings
type ProxyConfig struct {
	Trusted    bool     `yaml:"trusted"`     // Trust X-Forwarded-For / X-Real-IP
	TrustedIPs []string `yaml:"trusted_ips"` // Optional: restrict to specific proxies
}

// ScriptsConfig controls where pages live and how they are compiled
type ScriptsConfig struct {
	Root             string        `yaml:"root"`              // Site root; pages and static files are served from here
	Extensions       []string      `yaml:"extensions"`        // File extensions handled as pages (default: .asp)
	DenyExtensions   []string      `yaml:"deny_extensions"`   // Never served as static files (default: .inc)
	DefaultDocuments []string      `yaml:"default_documents"` // Tried in order for directory requests
	Charset          string        `yaml:"charset"`           // Encoding of page files (default: utf-8)
	Instrumented     *bool         `yaml:"instrumented"`      // Report fault positions (default: true in dev mode)
	Timeout          time.Duration `yaml:"timeout"`           // Per-request execution limit (0 = none)
	CallStackSize    int           `yaml:"call_stack_size"`   // Script call depth limit (0 = engine default)
}

// SessionConfig holds session cookie settings
type SessionConfig struct {
	Secret     SecretString  `yaml:"secret"`      // Encryption secret (required in production, auto-generated in dev)
	CookieName string        `yaml:"cookie_name"` // Cookie name (default: "sorrel_session")
	MaxAge     time.Duration `yaml:"max_age"`     // Session lifetime (default: 20m)
	Secure     *bool         `yaml:"secure"`      // HTTPS only (default: true in production)
	HttpOnly   bool          `yaml:"http_only"`   // No JavaScript access (default: true)
	SameSite   string        `yaml:"same_site"`   // SameSite policy: "Lax", "Strict", "None" (default: "Lax")
}

// SecurityConfig holds response security header settings
type SecurityConfig struct {
	HSTS               HSTSConfig `yaml:"hsts"`
	ContentTypeOptions string     `yaml:"content_type_options"` // X-Content-Type-Options (default: "nosniff")
	FrameOptions       string     `yaml:"frame_options"`        // X-Frame-Options (default: "SAMEORIGIN")
	ReferrerPolicy     string     `yaml:"referrer_policy"`      // Referrer-Policy (default: "strict-origin-when-cross-origin")
	CSP                string     `yaml:"csp"`                  // Content-Security-Policy
}

// HSTSConfig holds HTTP Strict Transport Security settings
type HSTSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	MaxAge            string `yaml:"max_age"` // seconds (default: "31536000")
	IncludeSubDomains bool   `yaml:"include_subdomains"`
}

// CompressionConfig holds HTTP response compression settings
type CompressionConfig struct {
	Enabled bool   `yaml:"enabled"`  // Enable gzip compression (default: true)
	Level   string `yaml:"level"`    // Compression level: "fastest", "default", "best", "none" (default: "default")
	MinSize int    `yaml:"min_size"` // Minimum response size to compress in bytes (default: 1024)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Quiet  bool   `yaml:"quiet"`  // suppress request logs
}

// DevConfig holds dev mode settings (only used when --dev flag is enabled)
type DevConfig struct {
	FaultLog        string `yaml:"fault_log"`          // Path to the fault database (default: faults.db next to the config)
	FaultLogMaxSize string `yaml:"fault_log_max_size"` // Maximum fault database size (default: "10MB")
	Watch           bool   `yaml:"watch"`              // Warn when page sources change (default: true)
}

// InstrumentedRuns reports whether pages should be compiled with fault
// positions.
func (c *Config) InstrumentedRuns() bool {
	if c.Scripts.Instrumented != nil {
		return *c.Scripts.Instrumented
	}
	return c.Server.Dev
}

// Defaults returns a Config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "",
			Port: 8080,
		},
		Scripts: ScriptsConfig{
			Root:             "site",
			Extensions:       []string{".asp"},
			DenyExtensions:   []string{".inc"},
			DefaultDocuments: []string{"default.asp", "index.asp"},
			Charset:          "utf-8",
		},
		Session: SessionConfig{
			CookieName: "sorrel_session",
			MaxAge:     20 * time.Minute,
			HttpOnly:   true,
			SameSite:   "Lax",
		},
		Security: SecurityConfig{
			HSTS: HSTSConfig{
				Enabled:           true,
				MaxAge:            "31536000",
				IncludeSubDomains: true,
			},
			ContentTypeOptions: "nosniff",
			FrameOptions:       "SAMEORIGIN",
			ReferrerPolicy:     "strict-origin-when-cross-origin",
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   "default",
			MinSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Dev: DevConfig{
			FaultLogMaxSize: "10MB",
			Watch:           true,
		},
	}
}
