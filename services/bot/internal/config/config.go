package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with BOT_CONFIG_PATH.
var ConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("BOT_CONFIG_PATH")); v != "" {
		return v
	}
	return "config.yaml"
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string   `yaml:"port"`
	LogLevel               string   `yaml:"logLevel"`
	DatabaseDriver         string   `yaml:"databaseDriver"`
	DatabaseURL            string   `yaml:"databaseURL"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	RedisKeyPrefix         string   `yaml:"redisKeyPrefix"`
	LineChannelSecret      string   `yaml:"lineChannelSecret"`
	LineChannelAccessToken string   `yaml:"lineChannelAccessToken"`
	LineAPIBaseURL         string   `yaml:"lineAPIBaseURL"`
	LineDataAPIBaseURL     string   `yaml:"lineDataAPIBaseURL"`
	GeminiAPIKey           string   `yaml:"geminiAPIKey"`
	GeminiModel            string   `yaml:"geminiModel"`
	AudioMimeType          string   `yaml:"audioMimeType"`
	EventConcurrency       int      `yaml:"eventConcurrency"`
	APIRateLimitPerMinute  int      `yaml:"apiRateLimitPerMinute"`
	TrustedProxyCIDRs      []string `yaml:"trustedProxyCidrs"`
	ForwardTimeout         string   `yaml:"forwardTimeout"`
}

// Load reads config from path (defaults to ConfigPath). A .env file in the
// working directory is applied first; environment variables win over YAML.
func Load(path string) (FileConfig, error) {
	_ = godotenv.Load()

	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	strs := map[string]*string{
		"PORT":                      &cfg.Port,
		"LOG_LEVEL":                 &cfg.LogLevel,
		"DATABASE_DRIVER":           &cfg.DatabaseDriver,
		"DATABASE_URL":              &cfg.DatabaseURL,
		"REDIS_ADDR":                &cfg.RedisAddr,
		"REDIS_PASSWORD":            &cfg.RedisPassword,
		"LINE_CHANNEL_SECRET":       &cfg.LineChannelSecret,
		"LINE_CHANNEL_ACCESS_TOKEN": &cfg.LineChannelAccessToken,
		"GEMINI_API_KEY":            &cfg.GeminiAPIKey,
		"GEMINI_MODEL":              &cfg.GeminiModel,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOT_EVENT_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: BOT_EVENT_CONCURRENCY must be an integer: %w", err)
		}
		cfg.EventConcurrency = n
	}
	if v := strings.TrimSpace(os.Getenv("BOT_API_RATE_LIMIT_PER_MINUTE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: BOT_API_RATE_LIMIT_PER_MINUTE must be an integer: %w", err)
		}
		cfg.APIRateLimitPerMinute = n
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TRUSTED_PROXY_CIDRS")); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.5-flash-lite"
	}
	if cfg.AudioMimeType == "" {
		cfg.AudioMimeType = "audio/m4a"
	}
	if cfg.EventConcurrency == 0 {
		cfg.EventConcurrency = 8
	}
	if cfg.APIRateLimitPerMinute == 0 {
		cfg.APIRateLimitPerMinute = 60
	}
	if cfg.ForwardTimeout == "" {
		cfg.ForwardTimeout = "10s"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: databaseDriver must be postgres or sqlite, got %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.LineChannelSecret == "" {
		return errors.New("config: lineChannelSecret is required (set in config.yaml or LINE_CHANNEL_SECRET)")
	}
	if cfg.LineChannelAccessToken == "" {
		return errors.New("config: lineChannelAccessToken is required (set in config.yaml or LINE_CHANNEL_ACCESS_TOKEN)")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
	}
	if cfg.EventConcurrency < 0 {
		return errors.New("config: eventConcurrency must be positive")
	}
	if cfg.APIRateLimitPerMinute < 0 {
		return errors.New("config: apiRateLimitPerMinute must be positive")
	}
	if _, err := ParseForwardTimeout(cfg.ForwardTimeout); err != nil {
		return err
	}
	return nil
}

// ParseForwardTimeout parses the webhook forward timeout duration.
func ParseForwardTimeout(v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: forwardTimeout must be a duration like 10s: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: forwardTimeout must be positive")
	}
	return d, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
