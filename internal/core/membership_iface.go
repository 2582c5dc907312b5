package core

import (
	"context"

	"github.com/dkeye/callsignal/internal/domain"
)

// MembershipSource answers which rooms a user belongs to.
type MembershipSource interface {
	ListRoomsForUser(ctx context.Context, user domain.UserID) ([]domain.RoomID, error)
}

// MembershipStore is the writable side used by the admin API.
type MembershipStore interface {
	MembershipSource
	AddMembership(ctx context.Context, m domain.Membership) error
	RemoveMembership(ctx context.Context, room domain.RoomID, user domain.UserID) error
	ListMembers(ctx context.Context, room domain.RoomID) ([]domain.User, error)
}
