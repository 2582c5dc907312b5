package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type ClientConfig struct {
	ServerURL     string            `mapstructure:"server_url"`
	User          UserConfig        `mapstructure:"user"`
	Codec         string            `mapstructure:"codec"`
	LogLevel      string            `mapstructure:"log_level"`
	Reconnect     ReconnectConfig   `mapstructure:"reconnect"`
	ICE           ICEConfig         `mapstructure:"ice"`
	ICETimeouts   ICETimeoutsConfig `mapstructure:"ice_timeouts"`
	StatsInterval time.Duration     `mapstructure:"stats_interval"`
	StatsHistory  int               `mapstructure:"stats_history"`
	Media         MediaConfig       `mapstructure:"media"`
}

type UserConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type ReconnectConfig struct {
	Count  int           `mapstructure:"count"`
	Delay  time.Duration `mapstructure:"delay"`
	Jitter time.Duration `mapstructure:"jitter"`
}

// ICEConfig names at most one STUN and one TURN server.
type ICEConfig struct {
	StunURL        string `mapstructure:"stun_url"`
	StunUsername   string `mapstructure:"stun_username"`
	StunCredential string `mapstructure:"stun_credential"`
	TurnURL        string `mapstructure:"turn_url"`
	TurnUsername   string `mapstructure:"turn_username"`
	TurnCredential string `mapstructure:"turn_credential"`
}

type ICETimeoutsConfig struct {
	Disconnected time.Duration `mapstructure:"disconnected"`
	Failed       time.Duration `mapstructure:"failed"`
	KeepAlive    time.Duration `mapstructure:"keepalive"`
}

type MediaConfig struct {
	Audio  bool `mapstructure:"audio"`
	Video  bool `mapstructure:"video"`
	Width  int  `mapstructure:"width"`
	Height int  `mapstructure:"height"`
	FPS    int  `mapstructure:"fps"`
	Echo   bool `mapstructure:"echo_cancellation"`
}

// ClientFlags declares the command-line overrides for LoadClient.
func ClientFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default config/client.<CONFIG_ENV>.yaml)")
	fs.String("server", "http://localhost:8080", "signaling server base URL")
	fs.String("id", "", "user id; empty generates one")
	fs.String("name", "", "display name")
	fs.String("codec", "json", "wire codec: json or cbor")
	fs.String("log-level", "info", "log level")
}

func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	v := newViper("client", fs)

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("codec", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("reconnect.count", 5)
	v.SetDefault("reconnect.delay", "1s")
	v.SetDefault("reconnect.jitter", "250ms")
	v.SetDefault("ice.stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("ice_timeouts.disconnected", "5s")
	v.SetDefault("ice_timeouts.failed", "25s")
	v.SetDefault("ice_timeouts.keepalive", "2s")
	v.SetDefault("stats_interval", "5s")
	v.SetDefault("stats_history", 12)
	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)
	v.SetDefault("media.width", 1280)
	v.SetDefault("media.height", 720)
	v.SetDefault("media.fps", 30)
	v.SetDefault("media.echo_cancellation", true)

	bind(v, fs, map[string]string{
		"server_url": "server",
		"user.id":    "id",
		"user.name":  "name",
		"codec":      "codec",
		"log_level":  "log-level",
	})
	readFile(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.User.Name == "" {
		return nil, fmt.Errorf("user name is required")
	}
	log.Info().Str("module", "config").Str("server", cfg.ServerURL).Str("user", cfg.User.Name).Msg("client config")
	return &cfg, nil
}
