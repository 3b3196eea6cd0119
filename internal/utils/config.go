package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration loaded from YAML.
type Config struct {
	Server struct {
		Host      string `yaml:"host"`
		Port      string `yaml:"port"`
		Prefork   bool   `yaml:"prefork"`
		BodyLimit int    `yaml:"body_limit"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RedisHost       string        `yaml:"redis_host"`
		RateLimitDB     int           `yaml:"redis_rate_db"`
		PDFCacheDB      int           `yaml:"redis_pdf_db"`
		PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
	} `yaml:"cache"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Limits struct {
		MaxFieldBytes int `yaml:"max_field_bytes"`
	} `yaml:"limits"`

	Compiler CompilerConfig `yaml:"compiler"`
	Paths    PathsConfig    `yaml:"paths"`

	Template struct {
		Escape string `yaml:"escape"`
		// Date is printed on the cover pages. Empty means the current month.
		Date string `yaml:"date"`
	} `yaml:"template"`

	Publish struct {
		Retention       time.Duration `yaml:"retention"`
		ReapSchedule    string        `yaml:"reap_schedule"`
		WorkspaceMaxAge time.Duration `yaml:"workspace_max_age"`
	} `yaml:"publish"`
}

// CompilerConfig describes how the external LaTeX compiler is invoked.
// Timeout bounds a single compilation unless DisableTimeout is set.
type CompilerConfig struct {
	Command        string        `yaml:"command"`
	Args           []string      `yaml:"args"`
	Timeout        time.Duration `yaml:"timeout"`
	DisableTimeout bool          `yaml:"disable_timeout"`
	SourceFile     string        `yaml:"source_file"`
	ArtifactFile   string        `yaml:"artifact_file"`
}

// PathsConfig holds the filesystem layout shared with the compiler.
type PathsConfig struct {
	InstallRoot      string `yaml:"install_root"`
	Logo             string `yaml:"logo"`
	Font             string `yaml:"font"`
	ScratchRoot      string `yaml:"scratch_root"`
	PublishDir       string `yaml:"publish_dir"`
	PublishURLPrefix string `yaml:"publish_url_prefix"`
}

// LoadConfigFrom reads, defaults and validates the YAML config at path.
// It panics on unreadable files or invalid values. LATEX_BIN, when set,
// overrides compiler.command.
func LoadConfigFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("cannot read config %s: %v", path, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("cannot parse config %s: %v", path, err))
	}

	if v := os.Getenv("LATEX_BIN"); v != "" {
		cfg.Compiler.Command = v
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}

	return cfg
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":5000"
	}
	if cfg.Server.BodyLimit == 0 {
		cfg.Server.BodyLimit = 64 * 1024
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Cache.PDFCacheTTL == 0 {
		cfg.Cache.PDFCacheTTL = time.Minute
	}
	if cfg.RateLimiter.Interval == 0 {
		cfg.RateLimiter.Interval = time.Minute
	}
	if cfg.Limits.MaxFieldBytes == 0 {
		cfg.Limits.MaxFieldBytes = 256
	}
	if cfg.Compiler.Command == "" {
		cfg.Compiler.Command = "lualatex"
	}
	if cfg.Compiler.Args == nil {
		cfg.Compiler.Args = []string{"--interaction=nonstopmode"}
	}
	if cfg.Compiler.Timeout == 0 {
		cfg.Compiler.Timeout = 2 * time.Minute
	}
	if cfg.Compiler.SourceFile == "" {
		cfg.Compiler.SourceFile = "document.tex"
	}
	if cfg.Compiler.ArtifactFile == "" {
		cfg.Compiler.ArtifactFile = strings.TrimSuffix(cfg.Compiler.SourceFile, ".tex") + ".pdf"
	}
	if cfg.Paths.InstallRoot == "" {
		cfg.Paths.InstallRoot = "."
	}
	if cfg.Paths.Logo == "" {
		cfg.Paths.Logo = "static/Logo.png"
	}
	if cfg.Paths.Font == "" {
		cfg.Paths.Font = "fonts/TimesNewRoman.ttf"
	}
	if cfg.Paths.ScratchRoot == "" {
		cfg.Paths.ScratchRoot = "tmp"
	}
	if cfg.Paths.PublishDir == "" {
		cfg.Paths.PublishDir = "static/pdfs"
	}
	if cfg.Paths.PublishURLPrefix == "" {
		cfg.Paths.PublishURLPrefix = "/static/pdfs"
	}
	if cfg.Template.Escape == "" {
		cfg.Template.Escape = "none"
	}
	if cfg.Publish.ReapSchedule == "" {
		cfg.Publish.ReapSchedule = "@every 10m"
	}
	if cfg.Publish.WorkspaceMaxAge == 0 {
		cfg.Publish.WorkspaceMaxAge = time.Hour
	}
}

func validate(cfg Config) error {
	switch {
	case cfg.Server.BodyLimit < 0:
		return fmt.Errorf("server.body_limit must not be negative")
	case cfg.RateLimiter.Interval < 0:
		return fmt.Errorf("rate_limiter.interval must be positive")
	case cfg.RateLimiter.UserLimit < 0:
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	case cfg.Limits.MaxFieldBytes < 0:
		return fmt.Errorf("limits.max_field_bytes must not be negative")
	case cfg.Compiler.Timeout < 0:
		return fmt.Errorf("compiler.timeout must not be negative")
	case cfg.Publish.Retention < 0:
		return fmt.Errorf("publish.retention must not be negative")
	case cfg.Publish.WorkspaceMaxAge < 0:
		return fmt.Errorf("publish.workspace_max_age must not be negative")
	case !cfg.Compiler.DisableTimeout && cfg.Publish.WorkspaceMaxAge <= cfg.Compiler.Timeout:
		return fmt.Errorf("publish.workspace_max_age (%s) must exceed compiler.timeout (%s)",
			cfg.Publish.WorkspaceMaxAge, cfg.Compiler.Timeout)
	}
	switch cfg.Template.Escape {
	case "none", "latex":
	default:
		return fmt.Errorf("template.escape must be 'none' or 'latex', got %q", cfg.Template.Escape)
	}
	return nil
}
