package domain

import (
	"errors"
	"testing"
)

var (
	alice = User{ID: "u-alice", Name: "alice"}
	bob   = User{ID: "u-bob", Name: "bob"}
)

// TestCommandValidate checks the structural rules each variant enforces.
func TestCommandValidate(t *testing.T) {
	cases := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"ongoing", OngoingCall{RoomID: "7"}, false},
		{"ongoing without room", OngoingCall{}, true},
		{"join", JoinCall{RoomID: "7", Sender: alice}, false},
		{"join without sender", JoinCall{RoomID: "7"}, true},
		{"offer", PickUpCall{RoomID: "7", Sender: alice, RecipientID: bob.ID, SDPOffer: "v=0"}, false},
		{"offer to self", PickUpCall{RoomID: "7", Sender: alice, RecipientID: alice.ID, SDPOffer: "v=0"}, true},
		{"answer without sdp", SdpAnswer{RoomID: "7", Sender: alice, RecipientID: bob.ID}, true},
		{"ice without recipient", IceExchange{RoomID: "7", Sender: alice, Candidate: "0$0$c"}, true},
		{"leave", LeaveCall{RoomID: "7", Sender: bob}, false},
		{"reconnect", Reconnect{}, false},
	}
	for _, tc := range cases {
		err := tc.cmd.Validate()
		if tc.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

// TestDirectedCommandAddressing verifies sender and recipient accessors.
func TestDirectedCommandAddressing(t *testing.T) {
	var cmd Command = IceExchange{RoomID: "7", Sender: alice, RecipientID: bob.ID, Candidate: "0$0$c"}
	directed, ok := cmd.(DirectedCommand)
	if !ok {
		t.Fatal("IceExchange should be a DirectedCommand")
	}
	if directed.From() != alice || directed.To() != bob.ID {
		t.Errorf("unexpected addressing: from %v to %v", directed.From(), directed.To())
	}
	if _, ok := Command(JoinCall{RoomID: "7", Sender: alice}).(DirectedCommand); ok {
		t.Error("JoinCall must not be directed")
	}
}

// TestNewUser covers identity construction limits.
func TestNewUser(t *testing.T) {
	u, err := NewUser("", "carol")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if u.ID == "" {
		t.Error("expected generated id")
	}
	if _, err := NewUser("x", ""); !errors.Is(err, ErrUsernameEmpty) {
		t.Errorf("expected ErrUsernameEmpty, got %v", err)
	}
	long := make([]byte, MaxUsernameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := NewUser("x", string(long)); !errors.Is(err, ErrUsernameTooLong) {
		t.Errorf("expected ErrUsernameTooLong, got %v", err)
	}
}
