package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Live      LiveConfig      `mapstructure:"live"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Listen    string        `mapstructure:"listen"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required")
	}
	return nil
}

// ProvidersConfig groups external AI backends.
type ProvidersConfig struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig configures the generative/speech backend.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	ChatModel   string        `mapstructure:"chat_model"`
	BriefModel  string        `mapstructure:"brief_model"`
	TTSModel    string        `mapstructure:"tts_model"`
	LiveModel   string        `mapstructure:"live_model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (g GeminiConfig) Validate() error {
	if strings.TrimSpace(g.APIKey) == "" {
		return fmt.Errorf("providers.gemini.api_key required")
	}
	return nil
}

// StorageConfig groups the backing stores.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a connection string from the individual fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// ChatConfig tunes the session/message engine.
type ChatConfig struct {
	TitleMaxChars  int    `mapstructure:"title_max_chars"`
	DefaultTitle   string `mapstructure:"default_title"`
	DefaultPersona string `mapstructure:"default_persona"`
}

// LiveConfig tunes the live voice channel.
type LiveConfig struct {
	SummaryMinChars int    `mapstructure:"summary_min_chars"`
	TurnJournal     string `mapstructure:"turn_journal"`
}

// AudioConfig declares the synthesis wire format.
type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
}

// RetentionConfig schedules the expired-session sweep.
type RetentionConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// LoadConfig loads config from file, falling back to defaults plus MIZAN_*
// environment overrides when no file is found.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.listen", ":10010")
	v.SetDefault("server.jwt_ttl", 24*time.Hour)
	v.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("providers.gemini.chat_model", "gemini-2.5-flash")
	v.SetDefault("providers.gemini.brief_model", "gemini-2.5-pro")
	v.SetDefault("providers.gemini.tts_model", "gemini-2.5-flash-preview-tts")
	v.SetDefault("providers.gemini.live_model", "gemini-2.5-flash-native-audio")
	v.SetDefault("providers.gemini.temperature", 0.3)
	v.SetDefault("providers.gemini.timeout", 60*time.Second)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("chat.title_max_chars", 40)
	v.SetDefault("chat.default_title", "New Consultation")
	v.SetDefault("chat.default_persona", "default")
	v.SetDefault("live.summary_min_chars", 20)
	v.SetDefault("live.turn_journal", "live:turns")
	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("retention.cron", "@daily")
	v.SetDefault("retention.max_age", 720*time.Hour)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("MIZAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env carry the service.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
