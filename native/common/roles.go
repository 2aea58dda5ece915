package common

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Role identifiers recognised by the protocol. Role management itself lives in
// an external access-control collaborator; the engines only ask whether a
// caller holds a role before mutating privileged state.
const (
	RoleManager        = "manager"
	RoleCircuitBreaker = "circuit_breaker"
	RolePauser         = "pauser"
)

// ErrUnauthorized is returned when the caller lacks the role a privileged
// operation requires.
var ErrUnauthorized = errors.New("caller missing required role")

// RoleView answers role membership queries against the external access
// controller.
type RoleView interface {
	HasRole(role string, account common.Address) bool
}

// RequireRole rejects the call unless account holds role. A nil view disables
// the check, mirroring Guard for deployments that wire access control later.
func RequireRole(v RoleView, role string, account common.Address) error {
	if v == nil || role == "" {
		return nil
	}
	if !v.HasRole(role, account) {
		return ErrUnauthorized
	}
	return nil
}
