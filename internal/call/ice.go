package call

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dkeye/callsignal/internal/domain"
)

const candidateSeparator = "$"

// ICECandidate is one connectivity candidate as exchanged over signaling.
type ICECandidate struct {
	SDPMLineIndex uint16
	SDPMid        string
	Candidate     string
}

// EncodeCandidate joins the candidate as "<mline index>$<mid>$<candidate>".
func EncodeCandidate(c ICECandidate) string {
	return strconv.FormatUint(uint64(c.SDPMLineIndex), 10) + candidateSeparator +
		c.SDPMid + candidateSeparator + c.Candidate
}

// ParseCandidate is the inverse of EncodeCandidate.
func ParseCandidate(s string) (ICECandidate, error) {
	parts := strings.SplitN(s, candidateSeparator, 3)
	if len(parts) != 3 {
		return ICECandidate{}, fmt.Errorf("%w: want 3 fields, got %d", domain.ErrMalformedCandidate, len(parts))
	}
	idx, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return ICECandidate{}, fmt.Errorf("%w: mline index %q", domain.ErrMalformedCandidate, parts[0])
	}
	if parts[2] == "" {
		return ICECandidate{}, fmt.Errorf("%w: empty candidate", domain.ErrMalformedCandidate)
	}
	return ICECandidate{SDPMLineIndex: uint16(idx), SDPMid: parts[1], Candidate: parts[2]}, nil
}
