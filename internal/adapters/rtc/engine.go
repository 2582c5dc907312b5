// Package rtc implements call.MediaEngine on pion/webrtc.
package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/callsignal/internal/call"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	defaultSTUN = "stun:stun.l.google.com:19302"
	streamID    = "callsignal"
)

type Options struct {
	ICEServers    []webrtc.ICEServer
	Disconnected  time.Duration
	Failed        time.Duration
	KeepAlive     time.Duration
	StatsInterval time.Duration
	StatsHistory  int
}

// OptionsFromConfig maps the client configuration onto engine options.
func OptionsFromConfig(cfg *config.ClientConfig) Options {
	return Options{
		ICEServers:    ICEServers(cfg.ICE),
		Disconnected:  cfg.ICETimeouts.Disconnected,
		Failed:        cfg.ICETimeouts.Failed,
		KeepAlive:     cfg.ICETimeouts.KeepAlive,
		StatsInterval: cfg.StatsInterval,
		StatsHistory:  cfg.StatsHistory,
	}
}

// ICEServers joins the configured STUN and TURN servers. With neither set
// the public Google STUN server is used.
func ICEServers(cfg config.ICEConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if cfg.StunURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.StunURL},
			Username:   cfg.StunUsername,
			Credential: cfg.StunCredential,
		})
	}
	if cfg.TurnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.TurnURL},
			Username:   cfg.TurnUsername,
			Credential: cfg.TurnCredential,
		})
	}
	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{defaultSTUN}})
	}
	return servers
}

// Engine builds peer connections sharing one codec and interceptor setup.
type Engine struct {
	api  *webrtc.API
	opts Options
}

func NewEngine(opts Options) (*Engine, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	if opts.Disconnected > 0 && opts.Failed > 0 && opts.KeepAlive > 0 {
		se.SetICETimeouts(opts.Disconnected, opts.Failed, opts.KeepAlive)
	}
	if len(opts.ICEServers) == 0 {
		opts.ICEServers = []webrtc.ICEServer{{URLs: []string{defaultSTUN}}}
	}
	if opts.StatsHistory < 1 {
		opts.StatsHistory = 1
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Engine{api: api, opts: opts}, nil
}

func (e *Engine) CreateAudioTrack(_ context.Context, c call.AudioConstraints) (call.LocalTrack, error) {
	t, err := newLocalTrack(call.KindAudio, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "rtc").Str("track", t.ID()).
		Bool("echo_cancellation", c.EchoCancellation).Msg("audio track created")
	return t, nil
}

func (e *Engine) CreateVideoTrack(_ context.Context, c call.VideoConstraints) (call.LocalTrack, error) {
	t, err := newLocalTrack(call.KindVideo, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "rtc").Str("track", t.ID()).
		Int("width", c.Width).Int("height", c.Height).Int("fps", c.FPS).Msg("video track created")
	return t, nil
}

func (e *Engine) NewConnection(ctx context.Context) (call.Connection, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.opts.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(ctx, pc, e.opts), nil
}
