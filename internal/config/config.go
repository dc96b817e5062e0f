package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Backend struct {
		BaseURL      string        `yaml:"base_url"`
		AuthBaseURL  string        `yaml:"auth_base_url"`
		APIKey       string        `yaml:"api_key"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"backend"`

	Checkout struct {
		Amount           int           `yaml:"amount"`
		AttemptTTL       time.Duration `yaml:"attempt_ttl"`
		DevGatewaySecret string        `yaml:"dev_gateway_secret"`
	} `yaml:"checkout"`

	Redis struct {
		Address    string        `yaml:"address"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		SessionTTL time.Duration `yaml:"session_ttl"`
	} `yaml:"redis"`

	HTTP struct {
		Address     string        `yaml:"address"`
		Rate        float64       `yaml:"rate"`
		Burst       int           `yaml:"burst"`
		FlowTimeout time.Duration `yaml:"flow_timeout"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// Load reads the YAML config at path. Variables from a .env file in the
// working directory are exported first so ${VAR} placeholders can use them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("telegram.bot_token and telegram.chat_id are required when telegram is enabled"))
	}
	if c.HTTP.Rate < 0 || c.HTTP.Burst < 0 {
		errs = append(errs, errors.New("http.rate and http.burst must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

func (c *Config) FetchTimeout() time.Duration {
	if c.Backend.FetchTimeout <= 0 {
		return 12 * time.Second
	}
	return c.Backend.FetchTimeout
}

func (c *Config) CheckoutAmount() int {
	if c.Checkout.Amount <= 0 {
		return 49
	}
	return c.Checkout.Amount
}

func (c *Config) AttemptTTL() time.Duration {
	if c.Checkout.AttemptTTL <= 0 {
		return 30 * time.Minute
	}
	return c.Checkout.AttemptTTL
}

func (c *Config) SessionTTL() time.Duration {
	if c.Redis.SessionTTL < 0 {
		return 0
	}
	if c.Redis.SessionTTL == 0 {
		return 7 * 24 * time.Hour
	}
	return c.Redis.SessionTTL
}

func (c *Config) HTTPAddress() string {
	if c.HTTP.Address == "" {
		return ":8080"
	}
	return c.HTTP.Address
}

// RateLimit returns the per-client request rate and burst.
func (c *Config) RateLimit() (float64, int) {
	rate, burst := c.HTTP.Rate, c.HTTP.Burst
	if rate == 0 {
		rate = 5
	}
	if burst == 0 {
		burst = 10
	}
	return rate, burst
}

func (c *Config) FlowTimeout() time.Duration {
	if c.HTTP.FlowTimeout <= 0 {
		return 30 * time.Minute
	}
	return c.HTTP.FlowTimeout
}
