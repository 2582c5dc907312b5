package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string          `mapstructure:"mode"`
	Port         int             `mapstructure:"port"`
	ReadLimit    int64           `mapstructure:"read_limit"`
	PingPeriod   time.Duration   `mapstructure:"ping_period"`
	WriteWait    time.Duration   `mapstructure:"write_wait"`
	SendBuffer   int             `mapstructure:"send_buffer"`
	Secret       string          `mapstructure:"secret"`
	LogLevel     string          `mapstructure:"log_level"`
	Codec        string          `mapstructure:"codec"`
	Backpressure string          `mapstructure:"backpressure"`
	Database     DatabaseConfig  `mapstructure:"database"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`

	v *viper.Viper
}

type DatabaseConfig struct {
	// Path of the SQLite membership database. Empty keeps memberships in memory.
	Path string `mapstructure:"path"`
}

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

// PongWait is how long the server waits for a pong before dropping a socket.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

// ServerFlags declares the command-line overrides for Load.
func ServerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	fs.Int("port", 8080, "listen port")
	fs.String("mode", "release", "gin mode: release or debug")
	fs.String("db", "", "SQLite membership database path; empty keeps memberships in memory")
	fs.String("log-level", "info", "log level")
}

// Load reads the server config. Flags that were set on fs win over the file.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := newViper("config", fs)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	// Signaling is low rate; a deep per-socket buffer keeps offers and
	// candidates from being dropped behind a burst. Drops log at error level.
	v.SetDefault("send_buffer", 256)
	v.SetDefault("log_level", "info")
	v.SetDefault("codec", "json")
	v.SetDefault("backpressure", "drop")
	v.SetDefault("rate_limit.limit", 50)
	v.SetDefault("rate_limit.interval", "1s")

	bind(v, fs, map[string]string{
		"port":          "port",
		"mode":          "mode",
		"database.path": "db",
		"log_level":     "log-level",
	})
	readFile(v)

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		log.Warn().Str("module", "config").Msg("no session secret configured, using an insecure default")
		cfg.Secret = "insecure-dev-secret"
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("codec", cfg.Codec).Msg("server config")
	return cfg, nil
}

// Watch calls fn with a freshly parsed config every time the file changes.
func (c *Config) Watch(fn func(*Config)) {
	watch(c.v, func(v *viper.Viper) {
		next := &Config{v: v}
		if err := v.Unmarshal(next); err != nil {
			log.Error().Err(err).Str("module", "config").Msg("reload failed")
			return
		}
		fn(next)
	})
}

// ApplyLogLevel sets the global zerolog level. Unknown names keep the
// current level.
func ApplyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		log.Warn().Str("module", "config").Str("level", level).Msg("unknown log level")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

func newViper(name string, fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CALLSIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			fileName = f.Value.String()
		}
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/%s.%s.yaml", name, env)
	}
	v.SetConfigFile(fileName)
	return v
}

func bind(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	if fs == nil {
		return
	}
	for key, flag := range keys {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				log.Error().Err(err).Str("module", "config").Str("flag", flag).Msg("bind flag")
			}
		}
	}
}

func readFile(v *viper.Viper) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
}

var watchMu sync.Mutex

func watch(v *viper.Viper, fn func(*viper.Viper)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		watchMu.Lock()
		defer watchMu.Unlock()
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config changed")
		fn(v)
	})
	v.WatchConfig()
}
