package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callsignal/internal/call"
	"github.com/dkeye/callsignal/internal/util"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connection adapts a pion PeerConnection to call.Connection. Callbacks are
// turned into events on an ordered queue.
type Connection struct {
	pc      *webrtc.PeerConnection
	events  *util.Queue[call.ConnectionEvent]
	stats   *util.RingBuffer[call.ConnectionStats]
	restart atomic.Bool
	log     zerolog.Logger

	mu     sync.Mutex
	state  call.ConnectionState
	remote []*RemoteTrack

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConnection(ctx context.Context, pc *webrtc.PeerConnection, opts Options) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		pc:     pc,
		events: util.NewQueue[call.ConnectionEvent](),
		stats:  util.NewRingBuffer[call.ConnectionStats](opts.StatsHistory),
		log:    log.With().Str("module", "rtc").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.events.Push(call.CandidateGathered{Candidate: fromInit(cand.ToJSON())})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		state := mapState(s)
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
		c.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		c.events.Push(call.StateChanged{State: state})
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ice state")
	})

	pc.OnNegotiationNeeded(func() {
		c.events.Push(call.NegotiationNeeded{})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		rt := newRemoteTrack(track)
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", rt.Codec()).
			Msg("OnTrack received")
		c.mu.Lock()
		c.remote = append(c.remote, rt)
		c.mu.Unlock()
		c.events.Push(call.TrackAdded{Track: rt})
		go func() {
			err := rt.drain()
			c.log.Debug().Err(err).Str("track_id", rt.ID()).Msg("remote track ended")
			c.events.Push(call.TrackRemoved{Track: rt})
		}()
	})

	if opts.StatsInterval > 0 {
		go c.sampleStats(opts.StatsInterval)
	}
	return c
}

func (c *Connection) Events() <-chan call.ConnectionEvent { return c.events.Out() }

// CreateOffer honours a pending RestartICE.
func (c *Connection) CreateOffer() (call.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if c.restart.Swap(false) {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return call.SessionDescription{}, err
	}
	return call.SessionDescription{Type: call.SDPOffer, SDP: offer.SDP}, nil
}

func (c *Connection) CreateAnswer() (call.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return call.SessionDescription{}, err
	}
	return call.SessionDescription{Type: call.SDPAnswer, SDP: answer.SDP}, nil
}

func (c *Connection) SetLocalDescription(d call.SessionDescription) error {
	return c.pc.SetLocalDescription(toPion(d))
}

func (c *Connection) SetRemoteDescription(d call.SessionDescription) error {
	return c.pc.SetRemoteDescription(toPion(d))
}

func (c *Connection) AddICECandidate(cand call.ICECandidate) error {
	idx, mid := cand.SDPMLineIndex, cand.SDPMid
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
}

// AddTrack attaches a track created by this package's Engine.
func (c *Connection) AddTrack(t call.LocalTrack) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return fmt.Errorf("rtc: foreign track %T", t)
	}
	sender, err := c.pc.AddTrack(lt.track)
	if err != nil {
		return err
	}
	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) RestartICE() error {
	if c.ctx.Err() != nil {
		return errors.New("rtc: connection closed")
	}
	c.restart.Store(true)
	c.log.Info().Msg("ice restart requested")
	c.events.Push(call.NegotiationNeeded{})
	return nil
}

// Stats returns the latest sample.
func (c *Connection) Stats() (call.ConnectionStats, bool) { return c.stats.Last() }

// History returns the retained samples, oldest first.
func (c *Connection) History() []call.ConnectionStats { return c.stats.Snapshot() }

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if err = c.pc.Close(); err != nil {
			c.log.Error().Err(err).Msg("close error")
		} else {
			c.log.Info().Msg("closed")
		}
		c.events.Close()
	})
	return err
}

func (c *Connection) sampleStats(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.stats.Push(c.sample())
		}
	}
}

func (c *Connection) sample() call.ConnectionStats {
	s := call.ConnectionStats{At: time.Now()}
	for _, st := range c.pc.GetStats() {
		if ts, ok := st.(webrtc.TransportStats); ok {
			s.BytesSent += ts.BytesSent
			s.BytesReceived += ts.BytesReceived
		}
	}
	c.mu.Lock()
	s.State = c.state
	for _, rt := range c.remote {
		s.PacketsReceived += rt.Packets()
	}
	c.mu.Unlock()
	return s
}

func toPion(d call.SessionDescription) webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if d.Type == call.SDPAnswer {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}
}

func fromInit(init webrtc.ICECandidateInit) call.ICECandidate {
	cand := call.ICECandidate{Candidate: init.Candidate}
	if init.SDPMLineIndex != nil {
		cand.SDPMLineIndex = *init.SDPMLineIndex
	}
	if init.SDPMid != nil {
		cand.SDPMid = *init.SDPMid
	}
	return cand
}

func mapState(s webrtc.PeerConnectionState) call.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return call.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return call.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return call.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return call.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return call.StateClosed
	default:
		return call.StateNew
	}
}
