package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/store"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
)

var (
	alice = domain.User{ID: "u-alice", Name: "alice"}
	bob   = domain.User{ID: "u-bob", Name: "bob"}
	carol = domain.User{ID: "u-carol", Name: "carol"}
)

type failingSource struct{}

func (failingSource) ListRoomsForUser(context.Context, domain.UserID) ([]domain.RoomID, error) {
	return nil, errors.New("database down")
}

func newManager(t *testing.T, memberships ...domain.Membership) (*SessionManager, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	for _, ms := range memberships {
		if err := mem.AddMembership(context.Background(), ms); err != nil {
			t.Fatalf("AddMembership: %v", err)
		}
	}
	m := NewSessionManager(mem)
	t.Cleanup(m.Close)
	return m, mem
}

func connect(t *testing.T, m *SessionManager, u domain.User) {
	t.Helper()
	if err := m.ConnectClient(context.Background(), u); err != nil {
		t.Fatalf("ConnectClient(%s): %v", u.Name, err)
	}
}

// drain collects every delivery that is already queued.
func drain(m *SessionManager) []core.Delivery {
	var out []core.Delivery
	for {
		select {
		case d := <-m.Deliveries():
			out = append(out, d)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func room7() []domain.Membership {
	return []domain.Membership{
		{Room: "7", User: alice},
		{Room: "7", User: bob},
		{Room: "7", User: carol},
	}
}

// TestConnectRegistersExactlyListedRooms checks presence matches the
// membership source, no more and no fewer.
func TestConnectRegistersExactlyListedRooms(t *testing.T) {
	m, mem := newManager(t,
		domain.Membership{Room: "7", User: alice},
		domain.Membership{Room: "9", User: alice},
		domain.Membership{Room: "9", User: bob},
	)
	connect(t, m, alice)
	rooms := m.RoomsOf(alice.ID)
	if len(rooms) != 2 || rooms[0] != "7" || rooms[1] != "9" {
		t.Fatalf("rooms = %v, want [7 9]", rooms)
	}

	// Reconnecting must not duplicate and must drop rooms no longer listed.
	if err := mem.RemoveMembership(context.Background(), "9", alice.ID); err != nil {
		t.Fatal(err)
	}
	connect(t, m, alice)
	rooms = m.RoomsOf(alice.ID)
	if len(rooms) != 1 || rooms[0] != "7" {
		t.Fatalf("rooms after reconnect = %v, want [7]", rooms)
	}
	if got := m.Present("7"); len(got) != 1 {
		t.Fatalf("room 7 present = %v, want only alice", got)
	}
}

// TestScenarioJoinAndOngoingCall covers connecting to an idle room, starting
// a call and a late joiner learning about it.
func TestScenarioJoinAndOngoingCall(t *testing.T) {
	m, _ := newManager(t, room7()...)
	connect(t, m, alice)
	connect(t, m, bob)
	if got := drain(m); len(got) != 0 {
		t.Fatalf("idle room emitted %v", got)
	}

	if err := m.OnRoomCommand(bob, domain.JoinCall{RoomID: "7", Sender: bob}); err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	got := drain(m)
	if len(got) != 1 || got[0].Recipient != alice.ID {
		t.Fatalf("join deliveries = %v, want one to alice", got)
	}
	if j, ok := got[0].Command.(domain.JoinCall); !ok || j.Sender != bob || j.RoomID != "7" {
		t.Fatalf("unexpected command %#v", got[0].Command)
	}
	if !m.InCall("7") {
		t.Fatal("room 7 should be in call")
	}

	errc := m.OnClientConnected(context.Background(), carol)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("OnClientConnected: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClientConnected did not finish")
	}
	got = drain(m)
	if len(got) != 1 || got[0].Recipient != carol.ID || got[0].Command != (domain.OngoingCall{RoomID: "7"}) {
		t.Fatalf("late joiner deliveries = %v", got)
	}
}

// TestDirectedRouting checks point to point delivery and its rejections.
func TestDirectedRouting(t *testing.T) {
	m, _ := newManager(t, room7()...)
	connect(t, m, alice)
	connect(t, m, bob)

	offer := domain.PickUpCall{RoomID: "7", Sender: alice, RecipientID: bob.ID, SDPOffer: "v=0"}
	if err := m.OnRoomCommand(alice, offer); err != nil {
		t.Fatalf("PickUpCall: %v", err)
	}
	got := drain(m)
	if len(got) != 1 || got[0].Recipient != bob.ID || got[0].Command != offer {
		t.Fatalf("deliveries = %v", got)
	}

	toCarol := domain.IceExchange{RoomID: "7", Sender: alice, RecipientID: carol.ID, Candidate: "0$0$c"}
	if err := m.OnRoomCommand(alice, toCarol); !errors.Is(err, domain.ErrUnknownRecipient) {
		t.Errorf("expected ErrUnknownRecipient, got %v", err)
	}

	spoofed := domain.SdpAnswer{RoomID: "7", Sender: bob, RecipientID: bob.ID, SDPAnswer: "v=0"}
	if err := m.OnRoomCommand(alice, spoofed); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for spoofed sender, got %v", err)
	}
	renamed := domain.SdpAnswer{RoomID: "7", Sender: domain.User{ID: alice.ID, Name: "mallory"}, RecipientID: bob.ID, SDPAnswer: "v=0"}
	if err := m.OnRoomCommand(alice, renamed); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for mismatched name, got %v", err)
	}

	if err := m.OnRoomCommand(carol, domain.JoinCall{RoomID: "7", Sender: carol}); !errors.Is(err, domain.ErrNotInRoom) {
		t.Errorf("expected ErrNotInRoom for unconnected user, got %v", err)
	}
	if err := m.OnRoomCommand(alice, domain.OngoingCall{RoomID: "7"}); !errors.Is(err, domain.ErrProtocol) {
		t.Errorf("expected ErrProtocol for client OngoingCall, got %v", err)
	}
	if got := drain(m); len(got) != 0 {
		t.Fatalf("rejected commands produced deliveries: %v", got)
	}
}

// TestExplicitLeaveKeepsPresence checks LeaveCall only ends call participation.
func TestExplicitLeaveKeepsPresence(t *testing.T) {
	m, _ := newManager(t, room7()...)
	connect(t, m, alice)
	connect(t, m, bob)
	_ = m.OnRoomCommand(alice, domain.JoinCall{RoomID: "7", Sender: alice})
	drain(m)

	if err := m.OnRoomCommand(alice, domain.LeaveCall{RoomID: "7", Sender: alice}); err != nil {
		t.Fatalf("LeaveCall: %v", err)
	}
	got := drain(m)
	if len(got) != 1 || got[0].Recipient != bob.ID {
		t.Fatalf("leave deliveries = %v", got)
	}
	if len(m.Present("7")) != 2 {
		t.Fatalf("explicit leave removed presence: %v", m.Present("7"))
	}
	if !m.InCall("7") {
		t.Fatal("explicit leave must not clear the call flag")
	}
}

// TestScenarioDisconnect checks a disconnect broadcasts LeaveCall and the
// call flag goes away with the last member.
func TestScenarioDisconnect(t *testing.T) {
	m, _ := newManager(t, room7()...)
	for _, u := range []domain.User{alice, bob, carol} {
		connect(t, m, u)
	}
	_ = m.OnRoomCommand(bob, domain.JoinCall{RoomID: "7", Sender: bob})
	drain(m)

	if err := m.OnClientDisconnected(context.Background(), bob); err != nil {
		t.Fatalf("OnClientDisconnected: %v", err)
	}
	got := drain(m)
	if len(got) != 2 {
		t.Fatalf("leave deliveries = %v, want 2", got)
	}
	for _, d := range got {
		if d.Command != (domain.LeaveCall{RoomID: "7", Sender: bob}) || d.Recipient == bob.ID {
			t.Errorf("unexpected delivery %v", d)
		}
	}
	if !m.InCall("7") {
		t.Fatal("room still has members, call flag should stay")
	}

	_ = m.OnClientDisconnected(context.Background(), alice)
	_ = m.OnClientDisconnected(context.Background(), carol)
	if m.InCall("7") {
		t.Fatal("empty room still in call")
	}
	if len(m.Present("7")) != 0 {
		t.Fatalf("present = %v", m.Present("7"))
	}
}

// TestDisconnectSurvivesLookupFailure checks bookkeeping is released even when
// the membership source fails.
func TestDisconnectSurvivesLookupFailure(t *testing.T) {
	m, _ := newManager(t, room7()...)
	connect(t, m, alice)
	m.members = failingSource{}
	if err := m.OnClientDisconnected(context.Background(), alice); err == nil {
		t.Fatal("expected lookup error to be reported")
	}
	if len(m.RoomsOf(alice.ID)) != 0 {
		t.Fatalf("alice still present in %v", m.RoomsOf(alice.ID))
	}
	if err := m.ConnectClient(context.Background(), bob); err == nil {
		t.Fatal("expected ConnectClient to fail")
	}
}

// TestOnClientLeftUnknownUser returns ErrNotInRoom without deliveries.
func TestOnClientLeftUnknownUser(t *testing.T) {
	m, _ := newManager(t, room7()...)
	err := m.OnClientLeft(alice, domain.LeaveCall{RoomID: "7", Sender: alice}, true)
	if !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
	if !IsRejection(err) {
		t.Error("ErrNotInRoom should count as a rejection")
	}
}
