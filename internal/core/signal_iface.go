package core

import (
	"errors"

	"github.com/dkeye/callsignal/internal/domain"
)

// Frame is one encoded signaling message.
type Frame []byte

// ConnID names one transport connection. A user may hold several.
type ConnID string

// SignalConnection abstracts a signaling transport to one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Delivery is a routing decision: send Command to Recipient.
type Delivery struct {
	Command   domain.Command
	Recipient domain.UserID
}

var (
	// ErrBackpressure is returned by TrySend when the connection's send
	// buffer is full.
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)
