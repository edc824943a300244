// Package config loads relaychat settings from defaults, an optional YAML
// file, a .env file, RELAYCHAT_* environment variables and command flags, in
// increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RELAYCHAT"

var ErrMissingAPIKey = errors.New("provider API key is missing (set OPENROUTER_API_KEY)")

type Config struct {
	LogLevel string   `mapstructure:"log_level"`
	Server   Server   `mapstructure:"server"`
	Provider Provider `mapstructure:"provider"`
	Client   Client   `mapstructure:"client"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Provider struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	SiteURL  string `mapstructure:"site_url"`
	SiteName string `mapstructure:"site_name"`
}

type Client struct {
	RelayURL  string `mapstructure:"relay_url"`
	DBPath    string `mapstructure:"db_path"`
	RedisAddr string `mapstructure:"redis_addr"`
	LogFile   string `mapstructure:"log_file"`
}

func defaults() map[string]any {
	logFile := "relaychat.log"
	if home, err := os.UserHomeDir(); err == nil {
		logFile = filepath.Join(home, ".relaychat", "relaychat.log")
	}
	return map[string]any{
		"log_level":          "info",
		"server.addr":        ":3000",
		"provider.base_url":  "https://openrouter.ai/api/v1",
		"provider.api_key":   "",
		"provider.model":     "openai/gpt-oss-20b:free",
		"provider.site_url":  "",
		"provider.site_name": "relaychat",
		"client.relay_url":   "http://localhost:3000",
		"client.db_path":     "",
		"client.redis_addr":  "",
		"client.log_file":    logFile,
	}
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"log-level":  "log_level",
	"addr":       "server.addr",
	"model":      "provider.model",
	"base-url":   "provider.base_url",
	"relay-url":  "client.relay_url",
	"db":         "client.db_path",
	"redis-addr": "client.redis_addr",
	"log-file":   "client.log_file",
}

// Load reads the configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "loading .env")
	}

	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("provider.api_key", envPrefix+"_PROVIDER_API_KEY", "OPENROUTER_API_KEY"); err != nil {
		return nil, errors.Wrap(err, "binding api key env")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "binding flag --%s", name)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	cfg.Provider.APIKey = strings.TrimSpace(cfg.Provider.APIKey)
	return &cfg, nil
}

// ValidateServer checks the settings `serve` cannot run without.
func (c *Config) ValidateServer() error {
	if c.Provider.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Provider.Model == "" {
		return errors.New("provider model is empty")
	}
	return nil
}

// ValidateClient checks the settings `chat` cannot run without.
func (c *Config) ValidateClient() error {
	if c.Client.RelayURL == "" {
		return errors.New("relay url is empty")
	}
	if c.Client.DBPath != "" && c.Client.RedisAddr != "" {
		return errors.New("choose either a database path or a redis address, not both")
	}
	return nil
}
