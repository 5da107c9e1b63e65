package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full service configuration. Values load in layers:
// built-in defaults first, environment variables on top.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`

	// ImageRoot is the directory served by the image gateway. Nothing
	// outside this root is reachable.
	ImageRoot string `koanf:"image_root"`

	// DataDir holds the append-only access and security logs.
	DataDir string `koanf:"data_dir"`

	// JWTSecret signs image access tokens. Both the issuing and the
	// verifying side share it; there is no per-request state.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL bounds how long an issued image token verifies.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// AllowedReferers lists origin prefixes accepted by the hotlink
	// check. Requests without a Referer header always pass.
	AllowedReferers []string `koanf:"allowed_referers"`

	// RefererStrict rejects mismatched referers with 403 instead of
	// the default warn-and-allow.
	RefererStrict bool `koanf:"referer_strict"`

	// AdminToken authenticates the admin endpoints. Empty disables
	// them: every admin request is rejected.
	AdminToken string `koanf:"admin_token"`

	// RedisAddr enables the Redis-backed rate limit store when set.
	// Empty means the in-process memory store.
	RedisAddr string `koanf:"redis_addr"`

	LogLevel string `koanf:"log_level"`

	Watermark WatermarkConfig `koanf:"watermark"`
	Limits    LimitsConfig    `koanf:"limits"`
	Rotation  RotationConfig  `koanf:"rotation"`
}

type WatermarkConfig struct {
	Enabled bool    `koanf:"enabled"`
	Text    string  `koanf:"text"`
	Opacity float64 `koanf:"opacity"`
}

// LimitsConfig carries one fixed-window budget per endpoint class.
// Each value is requests per window.
type LimitsConfig struct {
	Window     time.Duration `koanf:"window"`
	Image      int           `koanf:"image"`
	Token      int           `koanf:"token"`
	TokenBatch int           `koanf:"token_batch"`
	API        int           `koanf:"api"`
	Login      int           `koanf:"login"`
}

type RotationConfig struct {
	MaxFileSize int64         `koanf:"max_file_size"`
	Retention   time.Duration `koanf:"retention"`
	Interval    time.Duration `koanf:"interval"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ImageRoot:       "data",
		DataDir:         "data",
		JWTSecret:       "",
		TokenTTL:        5 * time.Minute,
		AllowedReferers: []string{"http://localhost:3000"},
		RefererStrict:   false,
		AdminToken:      "",
		RedisAddr:       "",
		LogLevel:        "info",
		Watermark: WatermarkConfig{
			Enabled: false,
			Text:    "Protected",
			Opacity: 0.15,
		},
		Limits: LimitsConfig{
			Window:     time.Minute,
			Image:      600,
			Token:      300,
			TokenBatch: 100,
			API:        60,
			Login:      5,
		},
		Rotation: RotationConfig{
			MaxFileSize: 10 << 20,
			Retention:   7 * 24 * time.Hour,
			Interval:    24 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults overridden by environment
// variables. Env names use "__" as the nesting separator, e.g.
// WATERMARK__ENABLED maps to watermark.enabled; JWT_SECRET stays a
// top-level key.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Env vars arrive as strings; allowed_referers expects a slice.
	if v, ok := k.Get("allowed_referers").(string); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set("allowed_referers", out); err != nil {
			return nil, fmt.Errorf("set allowed_referers: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if c.Limits.Window <= 0 {
		return fmt.Errorf("limits window must be positive")
	}
	if c.Watermark.Opacity < 0 || c.Watermark.Opacity > 1 {
		return fmt.Errorf("watermark opacity must be within [0,1]")
	}
	return nil
}

// envTransform maps environment variable names onto koanf paths.
// ENABLE_WATERMARK is kept as an alias for watermark.enabled to match
// earlier deployments.
func envTransform(key string) string {
	lower := strings.ToLower(key)
	if lower == "enable_watermark" {
		return "watermark.enabled"
	}
	return strings.ReplaceAll(lower, "__", ".")
}
