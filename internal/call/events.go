package call

import "github.com/dkeye/callsignal/internal/domain"

// Event is a notification for the application layer.
type Event interface {
	isEvent()
}

// IncomingCall asks the user to accept or reject a call.
type IncomingCall struct {
	Request domain.JoinCall
}

// OngoingCallNotice reports a call already running in one of the user's rooms.
type OngoingCallNotice struct {
	RoomID domain.RoomID
}

type ParticipantsChanged struct {
	Count int
}

type RemoteTrackAdded struct {
	Name  string
	Track RemoteTrack
}

type RemoteTrackRemoved struct {
	Name  string
	Track RemoteTrack
}

func (IncomingCall) isEvent()        {}
func (OngoingCallNotice) isEvent()   {}
func (ParticipantsChanged) isEvent() {}
func (RemoteTrackAdded) isEvent()    {}
func (RemoteTrackRemoved) isEvent()  {}
