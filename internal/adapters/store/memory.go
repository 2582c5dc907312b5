// Package store holds room membership: which users belong to which room.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
)

// Memory is a process-local membership store.
type Memory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]domain.User
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[domain.RoomID]map[domain.UserID]domain.User)}
}

func (m *Memory) AddMembership(_ context.Context, ms domain.Membership) error {
	if ms.Room == "" {
		return ErrRoomIDEmpty
	}
	if err := ms.User.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.rooms[ms.Room]
	if !ok {
		users = make(map[domain.UserID]domain.User)
		m.rooms[ms.Room] = users
	}
	users[ms.User.ID] = ms.User
	return nil
}

func (m *Memory) RemoveMembership(_ context.Context, room domain.RoomID, user domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.rooms[room]
	if !ok {
		return nil
	}
	delete(users, user)
	if len(users) == 0 {
		delete(m.rooms, room)
	}
	return nil
}

func (m *Memory) ListRoomsForUser(_ context.Context, user domain.UserID) ([]domain.RoomID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.RoomID
	for room, users := range m.rooms {
		if _, ok := users[user]; ok {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) ListMembers(_ context.Context, room domain.RoomID) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.rooms[room]))
	for _, u := range m.rooms[room] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
