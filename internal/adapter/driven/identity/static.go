package identity

import (
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// Static is an identity fixed for the process lifetime.
type Static struct {
	self domain.Caller
}

var _ port.IdentityProvider = Static{}

// NewStatic returns the identity id, generating one when id is empty.
func NewStatic(id domain.UserID, displayName string) Static {
	if id == "" {
		id = domain.NewUserID()
	}
	if displayName == "" {
		displayName = id.String()
	}
	return Static{self: domain.Caller{ID: id, DisplayName: displayName}}
}

func (s Static) Self() domain.Caller {
	return s.self
}
