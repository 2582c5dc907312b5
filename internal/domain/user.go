// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
)

type UserID string

// User is an identity issued by the authentication layer. Two users are the
// same sender only if both id and name match.
type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty id gets a fresh one.
func NewUser(id UserID, name string) (User, error) {
	if err := validateName(name); err != nil {
		return User{}, err
	}
	if id == "" {
		id = UserID(uuid.NewString())
	}
	if len(id) > MaxUserIDLen {
		return User{}, ErrUserIDTooLong
	}
	return User{ID: id, Name: name}, nil
}

func (u User) Validate() error {
	if u.ID == "" {
		return ErrUserIDEmpty
	}
	if len(u.ID) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return validateName(u.Name)
}

func (u User) String() string {
	return u.Name + "#" + string(u.ID)
}

func validateName(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
