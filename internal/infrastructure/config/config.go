package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Redis    RedisConfig    `koanf:"redis"`
	Backend  BackendConfig  `koanf:"backend"`
	Geocoder GeocoderConfig `koanf:"geocoder"`
	Location LocationConfig `koanf:"location"`
	Prompts  PromptsConfig  `koanf:"prompts"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type RedisConfig struct {
	// Addr empty means flags are kept in process memory only
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// BackendConfig points at the marketing site's visitor API
type BackendConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// GeocoderConfig points at the reverse-geocoding lookup
type GeocoderConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// LocationConfig tunes position acquisition
type LocationConfig struct {
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	WatchdogTimeout time.Duration `koanf:"watchdog_timeout"`
	MaximumAge      time.Duration `koanf:"maximum_age"`
	HighAccuracy    bool          `koanf:"high_accuracy"`

	// Static coordinates for fixed installs (kiosks); when set, the agent
	// uses them instead of a live platform provider.
	StaticLatitude  float64 `koanf:"static_latitude"`
	StaticLongitude float64 `koanf:"static_longitude"`
	StaticEnabled   bool    `koanf:"static_enabled"`
}

// PromptsConfig tunes the post-consent prompt scheduling
type PromptsConfig struct {
	LocationDelay time.Duration `koanf:"location_delay"`
	ContactDelay  time.Duration `koanf:"contact_delay"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 10 * time.Second,
		},
		Geocoder: GeocoderConfig{
			BaseURL: "https://nominatim.openstreetmap.org",
			Timeout: 5 * time.Second,
		},
		Location: LocationConfig{
			RequestTimeout:  12 * time.Second,
			WatchdogTimeout: 15 * time.Second,
			MaximumAge:      5 * time.Minute,
			HighAccuracy:    true,
		},
		Prompts: PromptsConfig{
			LocationDelay: 3 * time.Second,
			ContactDelay:  30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		_ = err
	}

	if err := k.Load(env.Provider("VISITOR_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "VISITOR_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
