package call

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/util"
	"github.com/rs/zerolog/log"
)

var ErrInAnotherCall = errors.New("already in another call")

type Options struct {
	Audio       bool
	Video       bool
	AudioConfig AudioConstraints
	VideoConfig VideoConstraints
}

type requestKey struct {
	room   domain.RoomID
	sender domain.UserID
}

// Manager owns the call of one client: local media, a Peer for every
// remote participant, and the join requests waiting for an answer.
type Manager struct {
	self   domain.User
	engine MediaEngine
	sig    Signaler
	opts   Options

	// mediaMu makes local media acquisition happen once.
	mediaMu sync.Mutex
	audio   LocalTrack
	video   LocalTrack

	mu          sync.Mutex
	room        domain.RoomID
	peers       map[domain.UserID]*Peer
	pending     map[requestKey]domain.JoinCall
	remoteAudio map[string]RemoteTrack
	remoteVideo map[string]RemoteTrack

	events *util.Queue[Event]
}

func NewManager(self domain.User, engine MediaEngine, sig Signaler, opts Options) *Manager {
	return &Manager{
		self:        self,
		engine:      engine,
		sig:         sig,
		opts:        opts,
		peers:       make(map[domain.UserID]*Peer),
		pending:     make(map[requestKey]domain.JoinCall),
		remoteAudio: make(map[string]RemoteTrack),
		remoteVideo: make(map[string]RemoteTrack),
		events:      util.NewQueue[Event](),
	}
}

// Events delivers notifications in order. The channel is closed by Close.
func (m *Manager) Events() <-chan Event { return m.events.Out() }

func (m *Manager) Self() domain.User { return m.self }

// Run feeds inbound signaling into HandleCommand until the signaler's
// channel closes or ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	commands := m.sig.Commands()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			m.HandleCommand(ctx, cmd)
		}
	}
}

// InitiateCall joins the room's call. Repeating it for the same room does
// nothing.
func (m *Manager) InitiateCall(ctx context.Context, room domain.RoomID) error {
	m.mu.Lock()
	switch m.room {
	case room:
		m.mu.Unlock()
		return nil
	case "":
		m.room = room
	default:
		current := m.room
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInAnotherCall, current)
	}
	m.mu.Unlock()

	if err := m.ensureLocalMedia(ctx); err != nil {
		m.abandonRoom(room)
		return err
	}
	log.Info().Str("module", "call.manager").Str("room", string(room)).Msg("initiating call")
	if err := m.sig.Send(ctx, domain.JoinCall{RoomID: room, Sender: m.self}); err != nil {
		m.abandonRoom(room)
		return err
	}
	return nil
}

// abandonRoom undoes a call start that never reached anyone.
func (m *Manager) abandonRoom(room domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.room == room && len(m.peers) == 0 {
		m.room = ""
	}
}

// AcceptCall answers a pending request: it calls the requester, drops every
// other request and announces itself to the rest of the room.
func (m *Manager) AcceptCall(ctx context.Context, req domain.JoinCall) error {
	key := requestKey{room: req.RoomID, sender: req.Sender.ID}
	m.mu.Lock()
	_, ok := m.pending[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s from %s", domain.ErrUnknownRequest, req.RoomID, req.Sender.ID)
	}

	if err := m.ensureLocalMedia(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.pending[key]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", domain.ErrUnknownRequest, req.RoomID, req.Sender.ID)
	}
	if m.room != "" && m.room != req.RoomID {
		current := m.room
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInAnotherCall, current)
	}
	clear(m.pending)
	m.room = req.RoomID
	peer, err := m.peerLocked(ctx, req.Sender, RoleInitiator)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	log.Info().Str("module", "call.manager").Str("room", string(req.RoomID)).Str("caller", string(req.Sender.ID)).Msg("call accepted")
	if err := peer.SendOffer(ctx); err != nil {
		m.failPeer(peer, err)
		return err
	}
	return m.sig.Send(ctx, domain.JoinCall{RoomID: req.RoomID, Sender: m.self})
}

// RejectCall forgets a pending request.
func (m *Manager) RejectCall(req domain.JoinCall) error {
	key := requestKey{room: req.RoomID, sender: req.Sender.ID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[key]; !ok {
		return fmt.Errorf("%w: %s from %s", domain.ErrUnknownRequest, req.RoomID, req.Sender.ID)
	}
	delete(m.pending, key)
	return nil
}

// PendingRequests lists unanswered join requests, oldest room first.
func (m *Manager) PendingRequests() []domain.JoinCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.JoinCall, 0, len(m.pending))
	for _, req := range m.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].Sender.ID < out[j].Sender.ID
	})
	return out
}

// HandleCommand applies one inbound signaling command. Failures affect only
// the peer the command was for and are logged.
func (m *Manager) HandleCommand(ctx context.Context, cmd domain.Command) {
	if sent, ok := cmd.(domain.SentCommand); ok && sent.From().ID == m.self.ID {
		return
	}
	switch c := cmd.(type) {
	case domain.OngoingCall:
		log.Info().Str("module", "call.manager").Str("room", string(c.RoomID)).Msg("ongoing call")
		m.events.Push(OngoingCallNotice{RoomID: c.RoomID})
	case domain.JoinCall:
		m.onJoinCall(ctx, c)
	case domain.PickUpCall:
		m.onOffer(ctx, c)
	case domain.SdpAnswer:
		peer := m.existingPeer(c.RoomID, c.Sender.ID)
		if peer == nil {
			log.Debug().Str("module", "call.manager").Str("from", string(c.Sender.ID)).Msg("answer for unknown peer dropped")
			return
		}
		if err := peer.HandleAnswer(ctx, c.SDPAnswer); err != nil {
			m.failPeer(peer, err)
		}
	case domain.IceExchange:
		peer := m.existingPeer(c.RoomID, c.Sender.ID)
		if peer == nil {
			log.Debug().Str("module", "call.manager").Str("from", string(c.Sender.ID)).Msg("candidate for unknown peer dropped")
			return
		}
		if err := peer.HandleICE(c.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "call.manager").Str("from", string(c.Sender.ID)).Msg("candidate rejected")
		}
	case domain.LeaveCall:
		m.onLeave(c)
	default:
		log.Warn().Str("module", "call.manager").Str("kind", string(cmd.Kind())).Msg("unexpected command")
	}
}

func (m *Manager) onJoinCall(ctx context.Context, c domain.JoinCall) {
	m.mu.Lock()
	switch {
	case m.room == "":
		m.pending[requestKey{room: c.RoomID, sender: c.Sender.ID}] = c
		m.mu.Unlock()
		log.Info().Str("module", "call.manager").Str("room", string(c.RoomID)).Str("from", c.Sender.Name).Msg("incoming call")
		m.events.Push(IncomingCall{Request: c})
		return
	case m.room != c.RoomID:
		m.mu.Unlock()
		log.Debug().Str("module", "call.manager").Str("room", string(c.RoomID)).Msg("join for another room ignored")
		return
	}
	if _, exists := m.peers[c.Sender.ID]; exists {
		m.mu.Unlock()
		return
	}
	peer, err := m.peerLocked(ctx, c.Sender, RoleInitiator)
	m.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "call.manager").Str("peer", string(c.Sender.ID)).Msg("create peer")
		return
	}
	if err := peer.SendOffer(ctx); err != nil {
		m.failPeer(peer, err)
	}
}

func (m *Manager) onOffer(ctx context.Context, c domain.PickUpCall) {
	m.mu.Lock()
	if m.room != c.RoomID {
		m.mu.Unlock()
		log.Debug().Str("module", "call.manager").Str("room", string(c.RoomID)).Msg("offer outside the active call dropped")
		return
	}
	peer, ok := m.peers[c.Sender.ID]
	if !ok {
		var err error
		peer, err = m.peerLocked(ctx, c.Sender, RoleResponder)
		if err != nil {
			m.mu.Unlock()
			log.Error().Err(err).Str("module", "call.manager").Str("peer", string(c.Sender.ID)).Msg("create peer")
			return
		}
	}
	m.mu.Unlock()
	if err := peer.HandleOffer(ctx, c.SDPOffer); err != nil {
		m.failPeer(peer, err)
	}
}

func (m *Manager) onLeave(c domain.LeaveCall) {
	m.mu.Lock()
	if m.room != c.RoomID {
		m.mu.Unlock()
		return
	}
	peer, ok := m.peers[c.Sender.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.removePeerLocked(peer)
	count := len(m.peers)
	m.mu.Unlock()

	peer.Close()
	log.Info().Str("module", "call.manager").Str("peer", string(c.Sender.ID)).Msg("participant left")
	m.events.Push(ParticipantsChanged{Count: count})
}

// peerLocked builds a peer with the local tracks attached and starts it.
func (m *Manager) peerLocked(ctx context.Context, with domain.User, role Role) (*Peer, error) {
	if p, ok := m.peers[with.ID]; ok {
		return p, nil
	}
	conn, err := m.engine.NewConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("new connection: %w", err)
	}
	for _, track := range m.localTracks() {
		if err := conn.AddTrack(track); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
	}
	p := newPeer(m.room, m.self, with, role, conn, m.sig, m)
	m.peers[with.ID] = p
	p.start()
	m.events.Push(ParticipantsChanged{Count: len(m.peers)})
	return p, nil
}

func (m *Manager) existingPeer(room domain.RoomID, id domain.UserID) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room != m.room {
		return nil
	}
	return m.peers[id]
}

// removePeerLocked drops the peer and the remote tracks it contributed.
func (m *Manager) removePeerLocked(p *Peer) {
	if m.peers[p.interlocutor.ID] != p {
		return
	}
	delete(m.peers, p.interlocutor.ID)
	delete(m.remoteAudio, p.interlocutor.Name)
	delete(m.remoteVideo, p.interlocutor.Name)
}

// failPeer closes the peer an operation failed for. Other peers go on.
func (m *Manager) failPeer(p *Peer, err error) {
	if errors.Is(err, ErrPeerClosed) {
		return
	}
	log.Error().Err(err).Str("module", "call.manager").Str("peer", string(p.interlocutor.ID)).Msg("peer session failed")
	m.mu.Lock()
	m.removePeerLocked(p)
	count := len(m.peers)
	m.mu.Unlock()
	p.Close()
	m.events.Push(ParticipantsChanged{Count: count})
}

func (m *Manager) remoteTrackAdded(p *Peer, t RemoteTrack) {
	name := p.interlocutor.Name
	m.mu.Lock()
	if m.peers[p.interlocutor.ID] != p {
		m.mu.Unlock()
		return
	}
	m.remoteTracksLocked(t.Kind())[name] = t
	m.mu.Unlock()
	m.events.Push(RemoteTrackAdded{Name: name, Track: t})
}

func (m *Manager) remoteTrackRemoved(p *Peer, t RemoteTrack) {
	name := p.interlocutor.Name
	m.mu.Lock()
	tracks := m.remoteTracksLocked(t.Kind())
	cur, ok := tracks[name]
	if !ok || cur.ID() != t.ID() {
		m.mu.Unlock()
		return
	}
	delete(tracks, name)
	m.mu.Unlock()
	m.events.Push(RemoteTrackRemoved{Name: name, Track: t})
}

func (m *Manager) peerFailed(p *Peer, err error) {
	m.failPeer(p, err)
}

func (m *Manager) remoteTracksLocked(kind TrackKind) map[string]RemoteTrack {
	if kind == KindVideo {
		return m.remoteVideo
	}
	return m.remoteAudio
}

// EnableMicrophone mutes or unmutes the local audio track.
func (m *Manager) EnableMicrophone(enabled bool) {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	if m.audio != nil {
		m.audio.SetEnabled(enabled)
	}
}

// EnableCamera turns the local video track on or off.
func (m *Manager) EnableCamera(enabled bool) {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	if m.video != nil {
		m.video.SetEnabled(enabled)
	}
}

// Disconnect leaves the call. Announcing the departure is best effort;
// everything local is torn down regardless. Calling it outside a call does
// nothing.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	room := m.room
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.room = ""
	clear(m.peers)
	clear(m.pending)
	clear(m.remoteAudio)
	clear(m.remoteVideo)
	m.mu.Unlock()

	if room != "" {
		if err := m.sig.Send(ctx, domain.LeaveCall{RoomID: room, Sender: m.self}); err != nil {
			log.Warn().Err(err).Str("module", "call.manager").Str("room", string(room)).Msg("leave announcement failed")
		}
	}
	for _, p := range peers {
		p.Close()
	}
	m.releaseLocalMedia()
	if room != "" || len(peers) > 0 {
		log.Info().Str("module", "call.manager").Str("room", string(room)).Int("peers", len(peers)).Msg("disconnected")
		m.events.Push(ParticipantsChanged{Count: 0})
	}
}

// Close disconnects and ends the event stream.
func (m *Manager) Close(ctx context.Context) {
	m.Disconnect(ctx)
	m.events.Close()
}

func (m *Manager) Room() domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// ConnectedCount is the number of peer sessions in the call.
func (m *Manager) ConnectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

func (m *Manager) Peer(id domain.UserID) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

// RemoteAudioTracks returns a copy keyed by participant name.
func (m *Manager) RemoteAudioTracks() map[string]RemoteTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTracks(m.remoteAudio)
}

// RemoteVideoTracks returns a copy keyed by participant name.
func (m *Manager) RemoteVideoTracks() map[string]RemoteTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTracks(m.remoteVideo)
}

// Stats returns the latest connection sample per participant name.
func (m *Manager) Stats() map[string]ConnectionStats {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	out := make(map[string]ConnectionStats, len(peers))
	for _, p := range peers {
		if s, ok := p.Stats(); ok {
			out[p.interlocutor.Name] = s
		}
	}
	return out
}

func (m *Manager) LocalAudioTrack() LocalTrack {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	return m.audio
}

func (m *Manager) LocalVideoTrack() LocalTrack {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	return m.video
}

func (m *Manager) ensureLocalMedia(ctx context.Context) error {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	if m.audio != nil || m.video != nil {
		return nil
	}
	var audio, video LocalTrack
	var err error
	if m.opts.Audio {
		if audio, err = m.engine.CreateAudioTrack(ctx, m.opts.AudioConfig); err != nil {
			return fmt.Errorf("acquire microphone: %w", err)
		}
	}
	if m.opts.Video {
		if video, err = m.engine.CreateVideoTrack(ctx, m.opts.VideoConfig); err != nil {
			if audio != nil {
				_ = audio.Close()
			}
			return fmt.Errorf("acquire camera: %w", err)
		}
	}
	m.audio, m.video = audio, video
	log.Info().Str("module", "call.manager").Bool("audio", audio != nil).Bool("video", video != nil).Msg("local media acquired")
	return nil
}

func (m *Manager) localTracks() []LocalTrack {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	var out []LocalTrack
	if m.audio != nil {
		out = append(out, m.audio)
	}
	if m.video != nil {
		out = append(out, m.video)
	}
	return out
}

func (m *Manager) releaseLocalMedia() {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	for _, t := range []LocalTrack{m.audio, m.video} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "call.manager").Str("kind", string(t.Kind())).Msg("release track")
		}
	}
	m.audio, m.video = nil, nil
}

func copyTracks(in map[string]RemoteTrack) map[string]RemoteTrack {
	out := make(map[string]RemoteTrack, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
