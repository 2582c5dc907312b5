package app

import (
	"context"
	"sync"

	"github.com/dkeye/callsignal/internal/codec"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	User   domain.User
	Conn   core.SignalConnection
	Codec  codec.Codec
	Cancel context.CancelFunc
}

// Registry knows every open signaling connection and the user behind it.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*connEntry
	byUser map[domain.UserID]map[core.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[core.ConnID]*connEntry),
		byUser: make(map[domain.UserID]map[core.ConnID]struct{}),
	}
}

// Bind records a connection and reports how many connections the user holds
// now, this one included.
func (r *Registry) Bind(id core.ConnID, user domain.User, conn core.SignalConnection, c codec.Codec, cancel context.CancelFunc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{User: user, Conn: conn, Codec: c, Cancel: cancel}
	ids, ok := r.byUser[user.ID]
	if !ok {
		ids = make(map[core.ConnID]struct{})
		r.byUser[user.ID] = ids
	}
	ids[id] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user.ID)).Int("user_conns", len(ids)).Msg("bound signal")
	return len(ids)
}

// Unbind forgets a connection. It returns the number of connections the user
// still holds, and false if id was not bound.
func (r *Registry) Unbind(id core.ConnID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return 0, false
	}
	delete(r.conns, id)
	ids := r.byUser[e.User.ID]
	delete(ids, id)
	remaining := len(ids)
	if remaining == 0 {
		delete(r.byUser, e.User.ID)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(e.User.ID)).Int("user_conns", remaining).Msg("unbind signal")
	return remaining, true
}

type regSnap struct {
	ID    core.ConnID
	Conn  core.SignalConnection
	Codec codec.Codec
}

// ConnectionsOf returns a snapshot of the user's connections.
func (r *Registry) ConnectionsOf(user domain.UserID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[user]
	out := make([]regSnap, 0, len(ids))
	for id := range ids {
		e := r.conns[id]
		out = append(out, regSnap{ID: id, Conn: e.Conn, Codec: e.Codec})
	}
	return out
}

func (r *Registry) UserOf(id core.ConnID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return domain.User{}, false
	}
	return e.User, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel ends the connection's lifetime; the adapter tears it down.
func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
