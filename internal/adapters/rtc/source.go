package rtc

import (
	"context"
	"errors"
	"time"

	"github.com/pion/randutil"
	"github.com/pion/rtp"
)

const (
	opusFrame        = 20 * time.Millisecond
	opusFrameSamples = 960
)

// opusSilence is a single Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FeedSilence keeps an audio track alive with silent Opus frames until ctx
// ends or the track is closed. It stands in for a capture device.
func FeedSilence(ctx context.Context, t *LocalTrack) error {
	rng := randutil.NewMathRandomGenerator()
	seq := uint16(rng.Uint32())
	ts := rng.Uint32()

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: opusSilence,
		}
		if err := t.WriteRTP(pkt); err != nil {
			if errors.Is(err, ErrTrackClosed) {
				return nil
			}
			return err
		}
		seq++
		ts += opusFrameSamples
	}
}
