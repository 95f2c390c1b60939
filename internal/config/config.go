package config

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = ewrap.New("invalid config")

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
	} `yaml:"server"`

	Cache struct {
		Namespace    string   `yaml:"namespace"`
		Version      string   `yaml:"version"`
		Shell        string   `yaml:"shell"`
		StaticAssets []string `yaml:"staticAssets"`
		APIPatterns  []string `yaml:"apiPatterns"`
		APIKeywords  []string `yaml:"apiKeywords"`
		Dynamic      struct {
			Max string `yaml:"max"`
		} `yaml:"dynamic"`

		apiRegexps []*regexp.Regexp
		dynamicMax int64
	} `yaml:"cache"`

	Storage struct {
		Path    string `yaml:"path"`
		Records struct {
			Backend string `yaml:"backend"`
			Key     string `yaml:"key"`
			Redis   struct {
				Addr     string `yaml:"addr"`
				Password string `yaml:"password"`
				DB       int    `yaml:"db"`
			} `yaml:"redis"`
		} `yaml:"records"`
	} `yaml:"storage"`

	API struct {
		BaseURL     string `yaml:"baseURL"`
		Timeout     string `yaml:"timeout"`
		MaxRetries  *int   `yaml:"maxRetries"`
		Backoff     string `yaml:"backoff"`
		HealthEvery string `yaml:"healthEvery"`

		timeoutDur     time.Duration
		backoffDur     time.Duration
		healthEveryDur time.Duration
	} `yaml:"api"`

	Sync struct {
		Endpoint          string `yaml:"endpoint"`
		Every             string `yaml:"every"`
		QueueOfflinePosts *bool  `yaml:"queueOfflinePosts"`

		everyDur time.Duration
	} `yaml:"sync"`

	Logging struct {
		Level      string `yaml:"level"`
		StatsEvery string `yaml:"statsEvery"`

		statsEveryDur time.Duration
	} `yaml:"logging"`
}

// DefaultStaticAssets is the application shell precached on install.
var DefaultStaticAssets = []string{
	"/",
	"/index.html",
	"/translate.html",
	"/dual-conversation.html",
	"/smart-translate.html",
	"/settings.html",
	"/welcome.html",
	"/login.html",
	"/styles.css",
	"/translate-styles.css",
	"/conversation-styles.css",
	"/login-styles.css",
	"/script.js",
	"/translate-script.js",
	"/conversation-script.js",
	"/login-script.js",
	"/manifest.json",
	"/assets/icon-192x192.png",
	"/assets/icon-512x512.png",
	"https://fonts.googleapis.com/css2?family=Cairo:wght@300;400;600;700&display=swap",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
}

// DefaultAPIPatterns match third-party translation providers.
var DefaultAPIPatterns = []string{
	`^https://api\.google\.com/translate`,
	`^https://api\.microsoft\.com/translator`,
	`^https://api\.amazon\.com/translate`,
	`^https://api\.deepl\.com/v2/translate`,
}

var DefaultAPIKeywords = []string{"translate", "speech", "ocr"}

// Load reads a YAML config file, applies defaults and validates it.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ewrap.Wrap(err, "read config")
	}
	return Parse(b)
}

// Parse is Load without the file read.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, ewrap.Wrap(err, "parse config")
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a config with every default applied for the given origin.
func Default(origin string) Config {
	var cfg Config
	cfg.Server.Origin = origin
	// defaults alone never fail to compile
	_ = cfg.compile()
	return cfg
}

func (cfg *Config) compile() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return ewrap.Wrap(ErrInvalid, "server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")

	c := &cfg.Cache
	if c.Namespace == "" {
		c.Namespace = "voice-translator-"
	}
	if c.Version == "" {
		c.Version = "v1.0.0"
	}
	if c.Shell == "" {
		c.Shell = "/index.html"
	}
	if c.StaticAssets == nil {
		c.StaticAssets = append([]string(nil), DefaultStaticAssets...)
	}
	if c.APIPatterns == nil {
		c.APIPatterns = append([]string(nil), DefaultAPIPatterns...)
	}
	if c.APIKeywords == nil {
		c.APIKeywords = append([]string(nil), DefaultAPIKeywords...)
	}
	c.apiRegexps = c.apiRegexps[:0]
	for i, p := range c.APIPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return ewrap.Wrapf(errors.Join(ErrInvalid, err), "cache.apiPatterns[%d]", i)
		}
		c.apiRegexps = append(c.apiRegexps, re)
	}
	if c.Dynamic.Max != "" {
		n, err := parseBytes(c.Dynamic.Max)
		if err != nil {
			return ewrap.Wrap(errors.Join(ErrInvalid, err), "cache.dynamic.max")
		}
		c.dynamicMax = n
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/leveldb"
	}
	r := &cfg.Storage.Records
	if r.Backend == "" {
		r.Backend = "leveldb"
	}
	if r.Key == "" {
		r.Key = "fallback-translations"
	}
	switch r.Backend {
	case "leveldb":
	case "redis":
		if r.Redis.Addr == "" {
			return ewrap.Wrap(ErrInvalid, "storage.records.redis.addr is required for the redis backend")
		}
	default:
		return ewrap.Wrapf(ErrInvalid, "storage.records.backend: unknown backend %q", r.Backend)
	}

	a := &cfg.API
	if a.BaseURL == "" {
		a.BaseURL = cfg.Server.Origin + "/api"
	}
	a.BaseURL = strings.TrimRight(a.BaseURL, "/")
	if a.MaxRetries == nil {
		n := 3
		a.MaxRetries = &n
	}
	if *a.MaxRetries < 0 {
		return ewrap.Wrap(ErrInvalid, "api.maxRetries must not be negative")
	}
	var err error
	if a.timeoutDur, err = durationOr(a.Timeout, 10*time.Second, "api.timeout"); err != nil {
		return err
	}
	if a.backoffDur, err = durationOr(a.Backoff, time.Second, "api.backoff"); err != nil {
		return err
	}
	if a.healthEveryDur, err = durationOr(a.HealthEvery, 30*time.Second, "api.healthEvery"); err != nil {
		return err
	}

	s := &cfg.Sync
	if s.Endpoint == "" {
		s.Endpoint = "/api/translate"
	}
	if s.QueueOfflinePosts == nil {
		v := true
		s.QueueOfflinePosts = &v
	}
	if s.everyDur, err = durationOr(s.Every, 0, "sync.every"); err != nil {
		return err
	}

	if cfg.Logging.statsEveryDur, err = durationOr(cfg.Logging.StatsEvery, 0, "logging.statsEvery"); err != nil {
		return err
	}
	return nil
}

func durationOr(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, ewrap.Wrap(errors.Join(ErrInvalid, err), field)
	}
	if d < 0 {
		return 0, ewrap.Wrapf(ErrInvalid, "%s must not be negative", field)
	}
	return d, nil
}

func (cfg *Config) StaticBucket() string {
	return cfg.Cache.Namespace + "static-" + cfg.Cache.Version
}

func (cfg *Config) DynamicBucket() string {
	return cfg.Cache.Namespace + "dynamic-" + cfg.Cache.Version
}

func (cfg *Config) APIRegexps() []*regexp.Regexp { return cfg.Cache.apiRegexps }

// DynamicMaxBytes is 0 when the dynamic bucket is unbounded.
func (cfg *Config) DynamicMaxBytes() int64 { return cfg.Cache.dynamicMax }

func (cfg *Config) APITimeout() time.Duration     { return cfg.API.timeoutDur }
func (cfg *Config) APIBackoff() time.Duration     { return cfg.API.backoffDur }
func (cfg *Config) APIHealthEvery() time.Duration { return cfg.API.healthEveryDur }
func (cfg *Config) APIMaxRetries() int            { return *cfg.API.MaxRetries }

// SyncEvery is 0 when periodic reconciliation is disabled.
func (cfg *Config) SyncEvery() time.Duration { return cfg.Sync.everyDur }

func (cfg *Config) QueueOfflinePosts() bool { return *cfg.Sync.QueueOfflinePosts }

func (cfg *Config) StatsEvery() time.Duration { return cfg.Logging.statsEveryDur }
