package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultToken is the public WAQI demo token used when no real token is
// configured. It only answers for a small set of demo stations.
const DefaultToken = "demo"

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string
	LogLevel   string

	Token       string
	FeedAPIURL  string
	FeedTimeout time.Duration

	RequestTimeout time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	UseCache      bool
	RefreshPeriod time.Duration // 0 = never
	CacheBackend  string        // "in_memory", "memcached" or "redis"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   int
	RateLimitBurst int

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	ShutdownTimeout time.Duration

	WarmPlaces   []string
	WarmInterval time.Duration
}

type fileConfig struct {
	LogLevel string `yaml:"log_level"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	FeedAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"feed_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Cache struct {
		UseCache      *bool  `yaml:"use_cache"`
		RefreshPeriod string `yaml:"refresh_period"`
		Backend       string `yaml:"backend"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		Breaker        struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Warming struct {
		Places   []string `yaml:"places"`
		Interval string   `yaml:"interval"`
	} `yaml:"warming"`
}

type secretsFile struct {
	Token string `yaml:"aqi_token"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. The WAQI token comes from the AQI_TOKEN env, then
// the secrets file, then falls back to the public demo token. Call from
// project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.LogLevel = fc.LogLevel

	cfg.Token = strings.TrimSpace(os.Getenv("AQI_TOKEN"))
	if cfg.Token == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.Token = strings.TrimSpace(sec.Token)
		}
	}
	if cfg.Token == "" {
		cfg.Token = DefaultToken
	}

	cfg.FeedAPIURL = fc.FeedAPI.URL
	if cfg.FeedAPIURL == "" {
		cfg.FeedAPIURL = "https://api.waqi.info"
	}
	cfg.FeedTimeout = parseDuration(fc.FeedAPI.Timeout, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	if fc.Cache.UseCache != nil {
		cfg.UseCache = *fc.Cache.UseCache
	}
	cfg.RefreshPeriod = parseRefreshPeriod(fc.Cache.RefreshPeriod)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = fc.Cache.Redis.Password
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	if fc.Reliability.Breaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.Breaker.Enabled
	}
	cfg.BreakerFailureThreshold = fc.Reliability.Breaker.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.Breaker.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.Breaker.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.WarmPlaces = fc.Warming.Places
	cfg.WarmInterval = parseDuration(fc.Warming.Interval, defaultWarmInterval(cfg.RefreshPeriod))

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if
// parsing fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// parseRefreshPeriod parses the refresh period, where empty and "never"
// both mean no refresh (0).
func parseRefreshPeriod(s string) time.Duration {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "never" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// defaultWarmInterval derives the warming cadence from the refresh
// period when one is configured.
func defaultWarmInterval(refresh time.Duration) time.Duration {
	if refresh > 0 {
		return refresh
	}
	return 15 * time.Minute
}

// validate performs post-load validation. Ensures the feed timeout is
// positive, RequestTimeout exceeds it (auto-adjusted if needed), and the
// cache backend names a known implementation.
func validate(cfg *Config) error {
	if cfg.FeedTimeout <= 0 {
		return fmt.Errorf("feed_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.FeedTimeout {
		cfg.RequestTimeout = cfg.FeedTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	return nil
}
