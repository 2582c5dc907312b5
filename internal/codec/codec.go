// Package codec turns signaling commands into websocket frames and back.
package codec

import (
	"fmt"

	"github.com/dkeye/callsignal/internal/domain"
)

// Codec encodes one command per websocket message.
type Codec interface {
	Name() string
	// MessageType is the websocket message type frames are written with.
	MessageType() int
	Encode(domain.Command) ([]byte, error)
	Decode([]byte) (domain.Command, error)
}

// ByName resolves a configured codec name. Empty selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", JSONName:
		return JSON{}, nil
	case CBORName:
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// wireCommand is the flat shape every variant travels in. Type is the
// discriminator; unused fields are omitted.
type wireCommand struct {
	Type        domain.CommandKind `json:"type"`
	RoomID      domain.RoomID      `json:"roomId,omitempty"`
	Sender      *domain.User       `json:"sender,omitempty"`
	RecipientID domain.UserID      `json:"recipientId,omitempty"`
	SDPOffer    string             `json:"sdpOffer,omitempty"`
	SDPAnswer   string             `json:"sdpAnswer,omitempty"`
	Candidate   string             `json:"candidate,omitempty"`
}

func toWire(cmd domain.Command) (wireCommand, error) {
	switch c := cmd.(type) {
	case domain.OngoingCall:
		return wireCommand{Type: c.Kind(), RoomID: c.RoomID}, nil
	case domain.JoinCall:
		return wireCommand{Type: c.Kind(), RoomID: c.RoomID, Sender: &c.Sender}, nil
	case domain.PickUpCall:
		return wireCommand{Type: c.Kind(), RoomID: c.RoomID, Sender: &c.Sender, RecipientID: c.RecipientID, SDPOffer: c.SDPOffer}, nil
	case domain.SdpAnswer:
		return wireCommand{Type: c.Kind(), RoomID: c.RoomID, Sender: &c.Sender, RecipientID: c.RecipientID, SDPAnswer: c.SDPAnswer}, nil
	case domain.IceExchange:
		return wireCommand{Type: c.Kind(), RoomID: c.RoomID, Sender: &c.Sender, RecipientID: c.RecipientID, Candidate: c.Candidate}, nil
	case domain.LeaveCall:
		return wireCommand{Type: c.Kind(), RoomID: c.RoomID, Sender: &c.Sender}, nil
	case domain.Reconnect:
		return wireCommand{Type: c.Kind()}, nil
	default:
		return wireCommand{}, fmt.Errorf("%w: cannot encode %T", domain.ErrValidation, cmd)
	}
}

func (w wireCommand) command() (domain.Command, error) {
	var sender domain.User
	if w.Sender != nil {
		sender = *w.Sender
	}
	switch w.Type {
	case domain.KindOngoingCall:
		return domain.OngoingCall{RoomID: w.RoomID}, nil
	case domain.KindJoinCall:
		return domain.JoinCall{RoomID: w.RoomID, Sender: sender}, nil
	case domain.KindPickUpCall:
		return domain.PickUpCall{RoomID: w.RoomID, Sender: sender, RecipientID: w.RecipientID, SDPOffer: w.SDPOffer}, nil
	case domain.KindSdpAnswer:
		return domain.SdpAnswer{RoomID: w.RoomID, Sender: sender, RecipientID: w.RecipientID, SDPAnswer: w.SDPAnswer}, nil
	case domain.KindIceExchange:
		return domain.IceExchange{RoomID: w.RoomID, Sender: sender, RecipientID: w.RecipientID, Candidate: w.Candidate}, nil
	case domain.KindLeaveCall:
		return domain.LeaveCall{RoomID: w.RoomID, Sender: sender}, nil
	case domain.KindReconnect:
		return domain.Reconnect{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", domain.ErrValidation, w.Type)
	}
}
