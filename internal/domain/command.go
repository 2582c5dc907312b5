package domain

import "fmt"

// CommandKind is the wire discriminator of a signaling command. Values are
// part of the protocol and must not change.
type CommandKind string

const (
	KindOngoingCall CommandKind = "ongoing_call"
	KindJoinCall    CommandKind = "join_call"
	KindPickUpCall  CommandKind = "pick_up_call"
	KindSdpAnswer   CommandKind = "sdp_answer"
	KindIceExchange CommandKind = "ice_exchange"
	KindLeaveCall   CommandKind = "leave_call"
	KindReconnect   CommandKind = "reconnect"
)

// Command is a signaling message. The set of implementations is closed to
// this package.
type Command interface {
	Kind() CommandKind
	Room() RoomID
	Validate() error
	isCommand()
}

// SentCommand is a command that names the user who sent it.
type SentCommand interface {
	Command
	From() User
}

// DirectedCommand is delivered to exactly one recipient instead of the room.
type DirectedCommand interface {
	SentCommand
	To() UserID
}

// OngoingCall tells a freshly connected client that the room already has a
// call. Only the server emits it.
type OngoingCall struct {
	RoomID RoomID
}

type JoinCall struct {
	RoomID RoomID
	Sender User
}

type PickUpCall struct {
	RoomID      RoomID
	Sender      User
	RecipientID UserID
	SDPOffer    string
}

type SdpAnswer struct {
	RoomID      RoomID
	Sender      User
	RecipientID UserID
	SDPAnswer   string
}

type IceExchange struct {
	RoomID      RoomID
	Sender      User
	RecipientID UserID
	Candidate   string
}

type LeaveCall struct {
	RoomID RoomID
	Sender User
}

// Reconnect asks the server to replay room membership for the connection.
type Reconnect struct{}

func (OngoingCall) Kind() CommandKind { return KindOngoingCall }
func (JoinCall) Kind() CommandKind    { return KindJoinCall }
func (PickUpCall) Kind() CommandKind  { return KindPickUpCall }
func (SdpAnswer) Kind() CommandKind   { return KindSdpAnswer }
func (IceExchange) Kind() CommandKind { return KindIceExchange }
func (LeaveCall) Kind() CommandKind   { return KindLeaveCall }
func (Reconnect) Kind() CommandKind   { return KindReconnect }

func (c OngoingCall) Room() RoomID { return c.RoomID }
func (c JoinCall) Room() RoomID    { return c.RoomID }
func (c PickUpCall) Room() RoomID  { return c.RoomID }
func (c SdpAnswer) Room() RoomID   { return c.RoomID }
func (c IceExchange) Room() RoomID { return c.RoomID }
func (c LeaveCall) Room() RoomID   { return c.RoomID }
func (Reconnect) Room() RoomID     { return "" }

func (c JoinCall) From() User    { return c.Sender }
func (c PickUpCall) From() User  { return c.Sender }
func (c SdpAnswer) From() User   { return c.Sender }
func (c IceExchange) From() User { return c.Sender }
func (c LeaveCall) From() User   { return c.Sender }

func (c PickUpCall) To() UserID  { return c.RecipientID }
func (c SdpAnswer) To() UserID   { return c.RecipientID }
func (c IceExchange) To() UserID { return c.RecipientID }

func (OngoingCall) isCommand() {}
func (JoinCall) isCommand()    {}
func (PickUpCall) isCommand()  {}
func (SdpAnswer) isCommand()   {}
func (IceExchange) isCommand() {}
func (LeaveCall) isCommand()   {}
func (Reconnect) isCommand()   {}

func (c OngoingCall) Validate() error { return validateRoom(c.Kind(), c.RoomID) }
func (c JoinCall) Validate() error    { return validateSent(c.Kind(), c.RoomID, c.Sender) }
func (c LeaveCall) Validate() error   { return validateSent(c.Kind(), c.RoomID, c.Sender) }
func (Reconnect) Validate() error     { return nil }

func (c PickUpCall) Validate() error {
	return validateDirected(c.Kind(), c.RoomID, c.Sender, c.RecipientID, "sdp offer", c.SDPOffer)
}

func (c SdpAnswer) Validate() error {
	return validateDirected(c.Kind(), c.RoomID, c.Sender, c.RecipientID, "sdp answer", c.SDPAnswer)
}

func (c IceExchange) Validate() error {
	return validateDirected(c.Kind(), c.RoomID, c.Sender, c.RecipientID, "candidate", c.Candidate)
}

func validateRoom(kind CommandKind, room RoomID) error {
	if room == "" {
		return fmt.Errorf("%w: %s without room id", ErrValidation, kind)
	}
	return nil
}

func validateSent(kind CommandKind, room RoomID, sender User) error {
	if err := validateRoom(kind, room); err != nil {
		return err
	}
	if err := sender.Validate(); err != nil {
		return fmt.Errorf("%w: %s sender: %v", ErrValidation, kind, err)
	}
	return nil
}

func validateDirected(kind CommandKind, room RoomID, sender User, to UserID, field, payload string) error {
	if err := validateSent(kind, room, sender); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("%w: %s without recipient", ErrValidation, kind)
	}
	if to == sender.ID {
		return fmt.Errorf("%w: %s addressed to its sender", ErrValidation, kind)
	}
	if payload == "" {
		return fmt.Errorf("%w: %s with empty %s", ErrValidation, kind, field)
	}
	return nil
}
