package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

type PeerState int

const (
	PeerNew PeerState = iota
	PeerNegotiating
	PeerStable
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerNegotiating:
		return "negotiating"
	case PeerStable:
		return "stable"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrPeerClosed = errors.New("peer closed")

// peerSink receives what a Peer learns from its connection.
type peerSink interface {
	remoteTrackAdded(p *Peer, t RemoteTrack)
	remoteTrackRemoved(p *Peer, t RemoteTrack)
	peerFailed(p *Peer, err error)
}

// Peer drives one connection to one remote participant through the
// offer/answer/candidate exchange. The role is fixed for its lifetime.
type Peer struct {
	room         domain.RoomID
	self         domain.User
	interlocutor domain.User
	role         Role
	conn         Connection
	sig          Sender
	sink         peerSink
	log          zerolog.Logger

	// negMu serializes offer and answer handling and orders outgoing
	// candidates after the description that produced them.
	negMu sync.Mutex

	// mu guards the remote description flag and the candidate buffer; a
	// candidate is either buffered or applied under it, never both.
	mu          sync.Mutex
	state       PeerState
	remoteSet   bool
	pending     []ICECandidate
	renegotiate bool
	connState   ConnectionState

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(room domain.RoomID, self, interlocutor domain.User, role Role, conn Connection, sig Sender, sink peerSink) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.With().Str("module", "call.peer").
		Str("peer", string(interlocutor.ID)).Str("role", role.String()).Logger()
	return &Peer{
		room:         room,
		self:         self,
		interlocutor: interlocutor,
		role:         role,
		conn:         conn,
		sig:          sig,
		sink:         sink,
		log:          logger,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

func (p *Peer) Interlocutor() domain.User { return p.interlocutor }
func (p *Peer) Role() Role                { return p.role }

func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ConnectionState is the last aggregate state the connection reported.
func (p *Peer) ConnectionState() ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connState
}

// PendingCandidates is the number of candidates waiting for the remote
// description.
func (p *Peer) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Peer) Stats() (ConnectionStats, bool) { return p.conn.Stats() }

// Done is closed once the peer stopped consuming connection events.
func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) start() {
	go p.run()
}

// SendOffer creates and applies a local offer and sends it as PickUpCall.
// Only the initiator offers.
func (p *Peer) SendOffer(ctx context.Context) error {
	if p.role != RoleInitiator {
		return p.roleError("send offer")
	}
	p.negMu.Lock()
	defer p.negMu.Unlock()

	if !p.transition(PeerNegotiating) {
		return ErrPeerClosed
	}
	offer, err := p.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	p.log.Debug().Msg("sending offer")
	return p.sig.Send(ctx, domain.PickUpCall{
		RoomID:      p.room,
		Sender:      p.self,
		RecipientID: p.interlocutor.ID,
		SDPOffer:    offer.SDP,
	})
}

// HandleOffer applies a remote offer and answers it. Only the responder
// accepts offers.
func (p *Peer) HandleOffer(ctx context.Context, sdp string) error {
	if p.role != RoleResponder {
		return p.roleError("handle offer")
	}
	p.negMu.Lock()
	defer p.negMu.Unlock()

	if !p.transition(PeerNegotiating) {
		return ErrPeerClosed
	}
	if err := p.applyRemote(SessionDescription{Type: SDPOffer, SDP: sdp}); err != nil {
		return err
	}
	answer, err := p.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	p.transition(PeerStable)
	p.log.Debug().Msg("sending answer")
	return p.sig.Send(ctx, domain.SdpAnswer{
		RoomID:      p.room,
		Sender:      p.self,
		RecipientID: p.interlocutor.ID,
		SDPAnswer:   answer.SDP,
	})
}

// HandleAnswer applies the remote answer to our offer.
func (p *Peer) HandleAnswer(ctx context.Context, sdp string) error {
	if p.role != RoleInitiator {
		return p.roleError("handle answer")
	}
	p.negMu.Lock()
	if err := p.applyRemote(SessionDescription{Type: SDPAnswer, SDP: sdp}); err != nil {
		p.negMu.Unlock()
		return err
	}
	p.transition(PeerStable)

	p.mu.Lock()
	again := p.renegotiate
	p.renegotiate = false
	p.mu.Unlock()
	p.negMu.Unlock()

	if again {
		p.log.Debug().Msg("renegotiating deferred offer")
		return p.SendOffer(ctx)
	}
	return nil
}

// HandleICE applies an encoded candidate, or buffers it until the remote
// description is set. A malformed string leaves the buffer untouched.
func (p *Peer) HandleICE(encoded string) error {
	cand, err := ParseCandidate(encoded)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.state == PeerClosed:
		return ErrPeerClosed
	case !p.remoteSet:
		p.pending = append(p.pending, cand)
		return nil
	}
	if err := p.conn.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// Close releases the connection and drops buffered candidates. It is safe
// to call more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.mu.Lock()
		p.state = PeerClosed
		p.pending = nil
		p.mu.Unlock()
		if err := p.conn.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close connection")
		}
		p.log.Info().Msg("peer closed")
	})
}

// applyRemote sets the remote description and drains buffered candidates in
// arrival order, all under mu.
func (p *Peer) applyRemote(desc SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerClosed {
		return ErrPeerClosed
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	p.remoteSet = true
	for _, cand := range p.pending {
		if err := p.conn.AddICECandidate(cand); err != nil {
			p.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
	if n := len(p.pending); n > 0 {
		p.log.Debug().Int("count", n).Msg("drained buffered candidates")
	}
	p.pending = nil
	return nil
}

// transition reports false if the peer is already closed.
func (p *Peer) transition(to PeerState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeerClosed {
		return false
	}
	p.state = to
	return true
}

func (p *Peer) roleError(op string) error {
	err := fmt.Errorf("%w: %s cannot %s", domain.ErrRole, p.role, op)
	p.log.Error().Err(err).Msg("peer contract violated")
	return err
}

func (p *Peer) run() {
	defer close(p.done)
	events := p.conn.Events()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handleEvent(ev)
		}
	}
}

func (p *Peer) handleEvent(ev ConnectionEvent) {
	switch e := ev.(type) {
	case CandidateGathered:
		// Gathering starts inside SetLocalDescription; negMu holds the
		// candidate back until the description it belongs to is on the wire.
		p.negMu.Lock()
		err := p.sig.Send(p.ctx, domain.IceExchange{
			RoomID:      p.room,
			Sender:      p.self,
			RecipientID: p.interlocutor.ID,
			Candidate:   EncodeCandidate(e.Candidate),
		})
		p.negMu.Unlock()
		if err != nil && p.ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("send candidate")
		}
	case TrackAdded:
		p.log.Info().Str("kind", string(e.Track.Kind())).Str("track", e.Track.ID()).Msg("remote track added")
		p.sink.remoteTrackAdded(p, e.Track)
	case TrackRemoved:
		p.log.Info().Str("kind", string(e.Track.Kind())).Str("track", e.Track.ID()).Msg("remote track removed")
		p.sink.remoteTrackRemoved(p, e.Track)
	case StateChanged:
		p.onStateChanged(e.State)
	case NegotiationNeeded:
		p.onNegotiationNeeded()
	}
}

func (p *Peer) onStateChanged(s ConnectionState) {
	p.mu.Lock()
	p.connState = s
	p.mu.Unlock()
	p.log.Info().Stringer("state", s).Msg("connection state")
	if s != StateFailed {
		return
	}
	if p.role != RoleInitiator {
		p.log.Info().Msg("connection failed, waiting for initiator to restart ice")
		return
	}
	if err := p.conn.RestartICE(); err != nil {
		p.log.Error().Err(err).Msg("restart ice")
	}
}

// onNegotiationNeeded offers again. Before the first offer there is nothing
// to renegotiate, and an offer in flight defers the new one until its answer.
func (p *Peer) onNegotiationNeeded() {
	if p.role != RoleInitiator {
		p.log.Debug().Msg("negotiation needed on responder, waiting for offer")
		return
	}
	p.mu.Lock()
	switch p.state {
	case PeerNew, PeerClosed:
		p.mu.Unlock()
		return
	case PeerNegotiating:
		// HandleAnswer always replays a deferred request.
		p.renegotiate = true
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.SendOffer(p.ctx); err != nil && p.ctx.Err() == nil {
		p.log.Error().Err(err).Msg("renegotiation offer")
		if errors.Is(err, domain.ErrRole) {
			p.sink.peerFailed(p, err)
		}
	}
}
