package port

import "github.com/Wyydra/yacall/internal/core/domain"

// IdentityProvider is the read-only view of the presence/identity
// collaborator.
type IdentityProvider interface {
	Self() domain.Caller
}
