package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/wsclient"
	"github.com/dkeye/callsignal/internal/call"
	"github.com/dkeye/callsignal/internal/codec"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := pflag.NewFlagSet("callsignal-client", pflag.ExitOnError)
	config.ClientFlags(fs)
	room := fs.String("room", "", "start a call in this room")
	autoAccept := fs.Bool("auto-accept", false, "accept incoming calls without asking")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadClient(fs)
	if err != nil {
		log.Fatal().Str("module", "cmd.client").Err(err).Msg("failed to load config")
	}
	config.ApplyLogLevel(cfg.LogLevel)

	wire, err := codec.ByName(cfg.Codec)
	if err != nil {
		log.Fatal().Str("module", "cmd.client").Err(err).Msg("bad codec")
	}
	engine, err := rtc.NewEngine(rtc.OptionsFromConfig(cfg))
	if err != nil {
		log.Fatal().Str("module", "cmd.client").Err(err).Msg("media engine")
	}
	transport, err := wsclient.New(wsclient.Options{
		ServerURL: cfg.ServerURL,
		User:      domain.User{ID: domain.UserID(cfg.User.ID), Name: cfg.User.Name},
		Codec:     wire,
		Reconnect: cfg.Reconnect,
	})
	if err != nil {
		log.Fatal().Str("module", "cmd.client").Err(err).Msg("signaling client")
	}
	self, err := transport.Login(ctx)
	if err != nil {
		log.Fatal().Str("module", "cmd.client").Err(err).Msg("login")
	}

	manager := call.NewManager(self, engine, transport, call.Options{
		Audio:       cfg.Media.Audio,
		Video:       cfg.Media.Video,
		AudioConfig: call.AudioConstraints{EchoCancellation: cfg.Media.Echo, AutoGainControl: true, NoiseSuppression: true},
		VideoConfig: call.VideoConstraints{Width: cfg.Media.Width, Height: cfg.Media.Height, FPS: cfg.Media.FPS},
	})
	ctl := call.NewController(manager, transport)

	pterm.Info.Printfln("signed in as %s (%s)", self.Name, self.ID)
	pterm.Println()

	runErr := make(chan error, 1)
	go func() { runErr <- ctl.Run(ctx) }()

	if *room != "" {
		go startCall(ctx, ctl, domain.RoomID(*room))
	}

	ui := newConsole(ctl, *autoAccept, log.Logger)
	ui.loop(ctx, cfg.StatsInterval, runErr)

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer leaveCancel()
	ctl.LeaveCall(leaveCtx)
	manager.Close(leaveCtx)
	pterm.Info.Println("bye")
}

// startCall retries until the signaling socket is up.
func startCall(ctx context.Context, ctl *call.Controller, room domain.RoomID) {
	for {
		err := ctl.InitiateCall(ctx, room)
		if err == nil {
			pterm.Success.Printfln("calling room %s", room)
			return
		}
		if !errors.Is(err, wsclient.ErrNotConnected) {
			pterm.Error.Printfln("cannot start call in room %s: %v", room, err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

type console struct {
	ctl        *call.Controller
	autoAccept bool
	fed        map[string]bool
	log        zerolog.Logger
}

func newConsole(ctl *call.Controller, autoAccept bool, base zerolog.Logger) *console {
	return &console{
		ctl:        ctl,
		autoAccept: autoAccept,
		fed:        make(map[string]bool),
		log:        base.With().Str("module", "cmd.client").Logger(),
	}
}

func (c *console) loop(ctx context.Context, statsEvery time.Duration, runErr <-chan error) {
	var stats <-chan time.Time
	if statsEvery > 0 {
		t := time.NewTicker(statsEvery)
		defer t.Stop()
		stats = t.C
	}
	events := c.ctl.Manager().Events()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				pterm.Error.Printfln("signaling stopped: %v", err)
			}
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, ev)
		case <-stats:
			c.printStats()
		}
	}
}

func (c *console) handle(ctx context.Context, ev call.Event) {
	switch e := ev.(type) {
	case call.IncomingCall:
		c.incoming(ctx, e.Request)
	case call.OngoingCallNotice:
		pterm.Info.Printfln("a call is in progress in room %s", e.RoomID)
	case call.ParticipantsChanged:
		pterm.Info.Printfln("%d participant(s) connected", e.Count)
		c.feedLocalAudio(ctx)
	case call.RemoteTrackAdded:
		pterm.Success.Printfln("%s %s track started", e.Name, e.Track.Kind())
	case call.RemoteTrackRemoved:
		pterm.Warning.Printfln("%s %s track ended", e.Name, e.Track.Kind())
	}
}

func (c *console) incoming(ctx context.Context, req domain.JoinCall) {
	accept := c.autoAccept
	if !accept {
		var err error
		accept, err = pterm.DefaultInteractiveConfirm.
			WithDefaultText(req.Sender.Name + " is calling in room " + string(req.RoomID) + ". Accept?").
			Show()
		if err != nil {
			c.log.Warn().Err(err).Msg("prompt failed")
			return
		}
		pterm.Println()
	}
	if !accept {
		if err := c.ctl.RejectCall(req); err != nil {
			c.log.Warn().Err(err).Msg("reject")
		}
		return
	}
	if err := c.ctl.AcceptCall(ctx, req); err != nil {
		c.log.Error().Err(err).Str("room", string(req.RoomID)).Str("caller", string(req.Sender.ID)).Msg("accept failed")
		pterm.Error.Printfln("cannot accept call: %v", err)
		return
	}
	pterm.Success.Printfln("joined call in room %s", req.RoomID)
}

// feedLocalAudio keeps the microphone track sending silence; capture
// devices are outside this program.
func (c *console) feedLocalAudio(ctx context.Context) {
	lt, ok := c.ctl.Manager().LocalAudioTrack().(*rtc.LocalTrack)
	if !ok || c.fed[lt.ID()] {
		return
	}
	c.fed[lt.ID()] = true
	go func() {
		if err := rtc.FeedSilence(ctx, lt); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn().Err(err).Msg("audio feed stopped")
		}
	}()
}

func (c *console) printStats() {
	stats := c.ctl.Manager().Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := stats[name]
		c.log.Info().
			Str("peer", name).
			Stringer("state", s.State).
			Uint64("bytes_sent", s.BytesSent).
			Uint64("bytes_received", s.BytesReceived).
			Uint64("packets_received", s.PacketsReceived).
			Msg("connection stats")
	}
}
