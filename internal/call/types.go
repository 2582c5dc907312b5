// Package call runs the client side of a call: one Peer per remote
// participant and a Manager reconciling them for the active room.
package call

import (
	"context"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType
	SDP  string
}

// ConnectionState is the aggregate state of a media connection.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type AudioConstraints struct {
	EchoCancellation bool
	AutoGainControl  bool
	NoiseSuppression bool
}

type VideoConstraints struct {
	Width  int
	Height int
	FPS    int
}

// LocalTrack is media this client sends. Disabling it mutes the track
// without renegotiating.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Close() error
}

type RemoteTrack interface {
	ID() string
	Kind() TrackKind
}

type ConnectionStats struct {
	At              time.Time
	State           ConnectionState
	BytesSent       uint64
	BytesReceived   uint64
	PacketsReceived uint64
}

// MediaEngine creates local tracks and peer connections.
type MediaEngine interface {
	CreateAudioTrack(ctx context.Context, c AudioConstraints) (LocalTrack, error)
	CreateVideoTrack(ctx context.Context, c VideoConstraints) (LocalTrack, error)
	NewConnection(ctx context.Context) (Connection, error)
}

// Connection is one peer connection. Events is closed after Close.
type Connection interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddICECandidate(ICECandidate) error
	AddTrack(LocalTrack) error
	// RestartICE makes the next offer restart ICE and asks for
	// renegotiation through a NegotiationNeeded event.
	RestartICE() error
	Events() <-chan ConnectionEvent
	Stats() (ConnectionStats, bool)
	Close() error
}

// ConnectionEvent is one of TrackAdded, TrackRemoved, CandidateGathered,
// StateChanged or NegotiationNeeded.
type ConnectionEvent interface {
	isConnectionEvent()
}

type TrackAdded struct{ Track RemoteTrack }

type TrackRemoved struct{ Track RemoteTrack }

type CandidateGathered struct{ Candidate ICECandidate }

type StateChanged struct{ State ConnectionState }

type NegotiationNeeded struct{}

func (TrackAdded) isConnectionEvent()        {}
func (TrackRemoved) isConnectionEvent()      {}
func (CandidateGathered) isConnectionEvent() {}
func (StateChanged) isConnectionEvent()      {}
func (NegotiationNeeded) isConnectionEvent() {}

// Sender puts a command on the signaling channel.
type Sender interface {
	Send(ctx context.Context, cmd domain.Command) error
}

// Signaler is the client end of the signaling transport. Commands is closed
// when the transport gives up.
type Signaler interface {
	Sender
	Commands() <-chan domain.Command
}
