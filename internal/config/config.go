package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Popup       PopupConfig     `mapstructure:"popup"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	SMS         SMSConfig       `mapstructure:"sms"`
	MCP         MCPConfig       `mapstructure:"mcp"`
	PingMessage string          `mapstructure:"ping_message"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// StorageConfig selects the key-value backend: "file", "sqlite" or "mongo".
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	FilePath      string `mapstructure:"file_path"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	Key           string `mapstructure:"key"`
}

type SchedulerConfig struct {
	MissedWindow time.Duration `mapstructure:"missed_window"`
}

type PopupConfig struct {
	AutoHide time.Duration `mapstructure:"auto_hide"`
}

type NotifyConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Bell          bool   `mapstructure:"bell"`
	PushoverToken string `mapstructure:"pushover_token"`
	PushoverUser  string `mapstructure:"pushover_user"`
	ToastCapacity int    `mapstructure:"toast_capacity"`
}

type SMSConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
	BaseURL    string `mapstructure:"base_url"`
}

type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// LoadConfig reads path (optional), then .env, then the environment.
// Environment values win over the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PILLBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names shared with the Twilio and Pushover tooling are read unprefixed.
	bindings := map[string]string{
		"sms.account_sid":       "TWILIO_ACCOUNT_SID",
		"sms.auth_token":        "TWILIO_AUTH_TOKEN",
		"sms.from_number":       "TWILIO_FROM_NUMBER",
		"notify.pushover_token": "PUSHOVER_TOKEN",
		"notify.pushover_user":  "PUSHOVER_USER",
		"ping_message":          "PING_MESSAGE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "PILLBOX_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			slog.Info("Config file not found, using defaults", "path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.file_path", "data/pillbox.json")
	v.SetDefault("storage.sqlite_path", "data/pillbox.db")
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_database", "pillbox")
	v.SetDefault("storage.key", "pillbox.reminders.v1")
	v.SetDefault("scheduler.missed_window", "30m")
	v.SetDefault("popup.auto_hide", "30s")
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.bell", true)
	v.SetDefault("notify.pushover_token", "")
	v.SetDefault("notify.pushover_user", "")
	v.SetDefault("notify.toast_capacity", 50)
	v.SetDefault("sms.account_sid", "")
	v.SetDefault("sms.auth_token", "")
	v.SetDefault("sms.from_number", "")
	v.SetDefault("sms.base_url", "https://api.twilio.com")
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("ping_message", "ping")
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMongo:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Scheduler.MissedWindow <= 0 {
		return fmt.Errorf("scheduler.missed_window must be positive, got %s", c.Scheduler.MissedWindow)
	}
	if c.Popup.AutoHide <= 0 {
		return fmt.Errorf("popup.auto_hide must be positive, got %s", c.Popup.AutoHide)
	}
	return nil
}
