package domain

import (
	"github.com/google/uuid"
)

// UserID names a party. It is opaque to the call core: the identity
// collaborator decides its shape, UUIDs are only the default.
type UserID string

func NewUserID() UserID {
	return UserID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func (s SessionID) String() string {
	return string(s)
}
