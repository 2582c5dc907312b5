package domain

// Membership ties a user to a room. Who belongs where is decided by the
// membership store; the relay only reads it.
type Membership struct {
	Room RoomID `json:"roomId"`
	User User   `json:"user"`
}
