package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/dkeye/callsignal/internal/util"
	"github.com/rs/zerolog/log"
)

// SessionManager is the signaling relay. It tracks which users are present
// in which rooms and which rooms have a call, and turns inbound commands into
// deliveries. It never touches sockets: every routing decision is pushed to
// one FIFO that a Dispatcher drains.
type SessionManager struct {
	members core.MembershipSource

	// mu guards both maps and the order of pushes to out, so a routing
	// decision and the membership it was based on are observed together.
	mu          sync.Mutex
	roomsInCall map[domain.RoomID]struct{}
	roomClients map[domain.RoomID]map[domain.UserID]struct{}

	out *util.Queue[core.Delivery]
}

func NewSessionManager(members core.MembershipSource) *SessionManager {
	return &SessionManager{
		members:     members,
		roomsInCall: make(map[domain.RoomID]struct{}),
		roomClients: make(map[domain.RoomID]map[domain.UserID]struct{}),
		out:         util.NewQueue[core.Delivery](),
	}
}

// Deliveries is the fan-out channel of (command, recipient) pairs.
func (m *SessionManager) Deliveries() <-chan core.Delivery { return m.out.Out() }

// Close stops routing. Queued deliveries are still handed out.
func (m *SessionManager) Close() { m.out.Close() }

// OnClientConnected registers the user in its rooms without blocking the
// caller. The returned channel yields the outcome once and is then closed.
func (m *SessionManager) OnClientConnected(ctx context.Context, user domain.User) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		err := m.ConnectClient(ctx, user)
		if err != nil {
			log.Error().Err(err).Str("module", "app.sessions").Str("user", string(user.ID)).Msg("client connect failed")
		}
		errc <- err
	}()
	return errc
}

// ConnectClient makes the user present in exactly the rooms the membership
// source lists and notifies it about calls already running there. Calling it
// again for a connected user is safe; rooms the user no longer belongs to are
// left as if the user had disconnected from them.
func (m *SessionManager) ConnectClient(ctx context.Context, user domain.User) error {
	rooms, err := m.members.ListRoomsForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list rooms for %s: %w", user.ID, err)
	}
	listed := make(map[domain.RoomID]struct{}, len(rooms))
	for _, room := range rooms {
		listed[room] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for room, clients := range m.roomClients {
		if _, ok := listed[room]; ok {
			continue
		}
		if _, present := clients[user.ID]; present {
			m.leaveLocked(user, domain.LeaveCall{RoomID: room, Sender: user}, true)
		}
	}

	for _, room := range rooms {
		clients, ok := m.roomClients[room]
		if !ok {
			clients = make(map[domain.UserID]struct{})
			m.roomClients[room] = clients
		}
		clients[user.ID] = struct{}{}
		if _, inCall := m.roomsInCall[room]; inCall {
			m.emitLocked(domain.OngoingCall{RoomID: room}, user.ID)
		}
	}
	log.Info().Str("module", "app.sessions").Str("user", string(user.ID)).Int("rooms", len(rooms)).Msg("client connected")
	return nil
}

// OnRoomCommand validates a command received from user and routes it.
func (m *SessionManager) OnRoomCommand(user domain.User, cmd domain.Command) error {
	switch cmd.(type) {
	case domain.OngoingCall:
		return fmt.Errorf("%w: %s is emitted by the server only", domain.ErrProtocol, cmd.Kind())
	case domain.Reconnect:
		return fmt.Errorf("%w: %s is not a room command", domain.ErrProtocol, cmd.Kind())
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	if sent, ok := cmd.(domain.SentCommand); ok && sent.From() != user {
		return fmt.Errorf("%w: %s sender %s does not match connection user %s",
			domain.ErrValidation, cmd.Kind(), sent.From(), user)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room := cmd.Room()
	if !m.isPresentLocked(room, user.ID) {
		return fmt.Errorf("%w: user %s, room %s", domain.ErrNotInRoom, user.ID, room)
	}

	switch c := cmd.(type) {
	case domain.JoinCall:
		m.roomsInCall[room] = struct{}{}
		m.broadcastLocked(c, room, user.ID)
	case domain.PickUpCall, domain.SdpAnswer, domain.IceExchange:
		directed := c.(domain.DirectedCommand)
		if !m.isPresentLocked(room, directed.To()) {
			return fmt.Errorf("%w: %s in room %s", domain.ErrUnknownRecipient, directed.To(), room)
		}
		m.emitLocked(c, directed.To())
	case domain.LeaveCall:
		m.leaveLocked(user, c, false)
	default:
		return fmt.Errorf("%w: unexpected %s", domain.ErrProtocol, cmd.Kind())
	}
	return nil
}

// OnClientLeft broadcasts the departure to the rest of the room. With
// disconnected set the user also stops being present in the room, and a room
// with nobody left drops its call.
func (m *SessionManager) OnClientLeft(user domain.User, leave domain.LeaveCall, disconnected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.leaveLocked(user, leave, disconnected) {
		return fmt.Errorf("%w: user %s, room %s", domain.ErrNotInRoom, user.ID, leave.RoomID)
	}
	return nil
}

// OnClientDisconnected leaves every room the user is present in. Rooms come
// from the membership source and from the relay's own bookkeeping, so a
// failing lookup still releases everything the relay knows about.
func (m *SessionManager) OnClientDisconnected(ctx context.Context, user domain.User) error {
	rooms, lookupErr := m.members.ListRoomsForUser(ctx, user.ID)
	if lookupErr != nil {
		lookupErr = fmt.Errorf("list rooms for %s: %w", user.ID, lookupErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[domain.RoomID]struct{}, len(rooms))
	for _, room := range rooms {
		seen[room] = struct{}{}
	}
	for room, clients := range m.roomClients {
		if _, ok := clients[user.ID]; ok {
			seen[room] = struct{}{}
		}
	}
	left := 0
	for room := range seen {
		if m.leaveLocked(user, domain.LeaveCall{RoomID: room, Sender: user}, true) {
			left++
		}
	}
	log.Info().Str("module", "app.sessions").Str("user", string(user.ID)).Int("rooms_left", left).Msg("client disconnected")
	return lookupErr
}

// InCall reports whether the room has an active call.
func (m *SessionManager) InCall(room domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.roomsInCall[room]
	return ok
}

// Present lists the users currently connected in room, sorted.
func (m *SessionManager) Present(room domain.RoomID) []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserID, 0, len(m.roomClients[room]))
	for id := range m.roomClients[room] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoomsOf lists the rooms user is present in, sorted.
func (m *SessionManager) RoomsOf(user domain.UserID) []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RoomID
	for room, clients := range m.roomClients {
		if _, ok := clients[user]; ok {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *SessionManager) isPresentLocked(room domain.RoomID, user domain.UserID) bool {
	_, ok := m.roomClients[room][user]
	return ok
}

// leaveLocked reports false if the user was not present in the room.
func (m *SessionManager) leaveLocked(user domain.User, leave domain.LeaveCall, disconnected bool) bool {
	room := leave.RoomID
	clients, ok := m.roomClients[room]
	if !ok {
		return false
	}
	if _, ok := clients[user.ID]; !ok {
		return false
	}
	m.broadcastLocked(leave, room, user.ID)
	if disconnected {
		delete(clients, user.ID)
		if len(clients) == 0 {
			delete(m.roomClients, room)
			delete(m.roomsInCall, room)
			log.Info().Str("module", "app.sessions").Str("room", string(room)).Msg("room emptied")
		}
	}
	return true
}

func (m *SessionManager) broadcastLocked(cmd domain.Command, room domain.RoomID, except domain.UserID) {
	recipients := make([]domain.UserID, 0, len(m.roomClients[room]))
	for id := range m.roomClients[room] {
		if id != except {
			recipients = append(recipients, id)
		}
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })
	for _, id := range recipients {
		m.emitLocked(cmd, id)
	}
}

func (m *SessionManager) emitLocked(cmd domain.Command, to domain.UserID) {
	if !m.out.Push(core.Delivery{Command: cmd, Recipient: to}) {
		log.Warn().Str("module", "app.sessions").Str("kind", string(cmd.Kind())).Str("to", string(to)).Msg("routing closed, delivery dropped")
	}
}

// IsRejection reports whether err is a per-command rejection rather than an
// internal failure.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotInRoom) ||
		errors.Is(err, domain.ErrUnknownRecipient) ||
		errors.Is(err, domain.ErrProtocol)
}
