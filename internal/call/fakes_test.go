package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
)

var (
	alice = domain.User{ID: "u-alice", Name: "alice"}
	bob   = domain.User{ID: "u-bob", Name: "bob"}
	carol = domain.User{ID: "u-carol", Name: "carol"}
)

type fakeTrack struct {
	id      string
	kind    TrackKind
	enabled atomic.Bool
	closed  atomic.Int32
}

func newFakeTrack(id string, kind TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string         { return t.id }
func (t *fakeTrack) Kind() TrackKind    { return t.kind }
func (t *fakeTrack) Enabled() bool      { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(on bool) { t.enabled.Store(on) }
func (t *fakeTrack) Close() error       { t.closed.Add(1); return nil }

// fakeConn records every call in order.
type fakeConn struct {
	mu       sync.Mutex
	calls    []string
	added    []ICECandidate
	tracks   []LocalTrack
	restarts int
	closes   int
	offers   int
	events   chan ConnectionEvent

	// gatherOnLocal emits a candidate from SetLocalDescription, as ICE
	// gathering does.
	gatherOnLocal bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan ConnectionEvent, 16)}
}

func (c *fakeConn) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeConn) CreateOffer() (SessionDescription, error) {
	c.mu.Lock()
	c.offers++
	n := c.offers
	c.calls = append(c.calls, "create-offer")
	c.mu.Unlock()
	return SessionDescription{Type: SDPOffer, SDP: fmt.Sprintf("offer-%d", n)}, nil
}

func (c *fakeConn) CreateAnswer() (SessionDescription, error) {
	c.record("create-answer")
	return SessionDescription{Type: SDPAnswer, SDP: "answer"}, nil
}

func (c *fakeConn) SetLocalDescription(d SessionDescription) error {
	c.mu.Lock()
	c.calls = append(c.calls, "set-local-"+string(d.Type))
	gather := c.gatherOnLocal
	c.mu.Unlock()
	if gather {
		c.events <- CandidateGathered{Candidate: ICECandidate{SDPMid: "0", Candidate: "host-" + string(d.Type)}}
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(d SessionDescription) error {
	c.record("set-remote-" + string(d.Type))
	return nil
}

func (c *fakeConn) AddICECandidate(cand ICECandidate) error {
	c.mu.Lock()
	c.added = append(c.added, cand)
	c.calls = append(c.calls, "add-ice "+cand.Candidate)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) AddTrack(t LocalTrack) error {
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) RestartICE() error {
	c.mu.Lock()
	c.restarts++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Events() <-chan ConnectionEvent { return c.events }

func (c *fakeConn) Stats() (ConnectionStats, bool) {
	return ConnectionStats{State: StateConnected, BytesSent: 10}, true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeEngine struct {
	mu       sync.Mutex
	audio    []*fakeTrack
	video    []*fakeTrack
	conns    []*fakeConn
	videoErr error

	// audioDelay slows CreateAudioTrack down like a device opening.
	audioDelay time.Duration
}

func (e *fakeEngine) CreateAudioTrack(context.Context, AudioConstraints) (LocalTrack, error) {
	time.Sleep(e.audioDelay)
	e.mu.Lock()
	defer e.mu.Unlock()
	t := newFakeTrack(fmt.Sprintf("audio-%d", len(e.audio)), KindAudio)
	e.audio = append(e.audio, t)
	return t, nil
}

func (e *fakeEngine) CreateVideoTrack(context.Context, VideoConstraints) (LocalTrack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.videoErr != nil {
		return nil, e.videoErr
	}
	t := newFakeTrack(fmt.Sprintf("video-%d", len(e.video)), KindVideo)
	e.video = append(e.video, t)
	return t, nil
}

func (e *fakeEngine) NewConnection(context.Context) (Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := newFakeConn()
	e.conns = append(e.conns, c)
	return c, nil
}

func (e *fakeEngine) VideoCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.video)
}

func (e *fakeEngine) AudioCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.audio)
}

func (e *fakeEngine) Conn(i int) *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[i]
}

// fakeSignaler keeps outgoing commands and lets a test feed inbound ones.
type fakeSignaler struct {
	mu       sync.Mutex
	sent     []domain.Command
	err      error
	commands chan domain.Command

	// slowKind commands take slowBy before they count as written.
	slowKind domain.CommandKind
	slowBy   time.Duration
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{commands: make(chan domain.Command, 16)}
}

func (s *fakeSignaler) Send(_ context.Context, cmd domain.Command) error {
	if cmd.Kind() == s.slowKind {
		time.Sleep(s.slowBy)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *fakeSignaler) Commands() <-chan domain.Command { return s.commands }

func (s *fakeSignaler) Sent() []domain.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Command(nil), s.sent...)
}

func (s *fakeSignaler) kinds() []domain.CommandKind {
	var out []domain.CommandKind
	for _, c := range s.Sent() {
		out = append(out, c.Kind())
	}
	return out
}

type fakeRemote struct {
	id   string
	kind TrackKind
}

func (r fakeRemote) ID() string      { return r.id }
func (r fakeRemote) Kind() TrackKind { return r.kind }

type recordingSink struct {
	mu      sync.Mutex
	added   []RemoteTrack
	removed []RemoteTrack
	failed  []error
}

func (s *recordingSink) remoteTrackAdded(_ *Peer, t RemoteTrack) {
	s.mu.Lock()
	s.added = append(s.added, t)
	s.mu.Unlock()
}

func (s *recordingSink) remoteTrackRemoved(_ *Peer, t RemoteTrack) {
	s.mu.Lock()
	s.removed = append(s.removed, t)
	s.mu.Unlock()
}

func (s *recordingSink) peerFailed(_ *Peer, err error) {
	s.mu.Lock()
	s.failed = append(s.failed, err)
	s.mu.Unlock()
}

func (s *recordingSink) Added() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.added)
}

var errCameraBusy = errors.New("camera busy")

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
