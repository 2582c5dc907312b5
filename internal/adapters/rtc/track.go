package rtc

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/dkeye/callsignal/internal/call"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrTrackClosed = errors.New("track closed")

// LocalTrack is a sending track fed with RTP by a capture source. Packets
// written while it is disabled are dropped.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticRTP
	kind    call.TrackKind
	enabled atomic.Bool
	closed  atomic.Bool
}

func newLocalTrack(kind call.TrackKind, codec webrtc.RTPCodecCapability) (*LocalTrack, error) {
	tr, err := webrtc.NewTrackLocalStaticRTP(codec, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{track: tr, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string           { return t.track.ID() }
func (t *LocalTrack) Kind() call.TrackKind { return t.kind }
func (t *LocalTrack) Enabled() bool        { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(on bool)   { t.enabled.Store(on) }

func (t *LocalTrack) Close() error {
	t.closed.Store(true)
	return nil
}

// WriteRTP forwards one packet to every connection the track is bound to.
func (t *LocalTrack) WriteRTP(pkt *rtp.Packet) error {
	if t.closed.Load() {
		return ErrTrackClosed
	}
	if !t.enabled.Load() {
		return nil
	}
	if err := t.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

// RemoteTrack is a received track. Its payload is drained and counted.
type RemoteTrack struct {
	track   *webrtc.TrackRemote
	kind    call.TrackKind
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func newRemoteTrack(track *webrtc.TrackRemote) *RemoteTrack {
	kind := call.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = call.KindVideo
	}
	return &RemoteTrack{track: track, kind: kind}
}

func (t *RemoteTrack) ID() string           { return t.track.ID() }
func (t *RemoteTrack) Kind() call.TrackKind { return t.kind }
func (t *RemoteTrack) Codec() string        { return t.track.Codec().MimeType }
func (t *RemoteTrack) Packets() uint64      { return t.packets.Load() }
func (t *RemoteTrack) Bytes() uint64        { return t.bytes.Load() }

// drain reads until the track ends.
func (t *RemoteTrack) drain() error {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return err
		}
		t.packets.Add(1)
		t.bytes.Add(uint64(len(pkt.Payload)))
	}
}
