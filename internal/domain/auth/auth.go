// Package auth holds the API key identity model and the permission gate every
// lifecycle action passes through before any side effect runs.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrForbidden is returned when the permission gate denies an action.
var ErrForbidden = errors.New("forbidden")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC-SHA256 hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID     string
	Name   string
	Scopes []string
}

// PermissionGate authorizes an actor to perform an action on a resource type.
// A false result must short-circuit the caller with no side effects.
type PermissionGate interface {
	Authorize(ctx context.Context, actor Actor, action, resourceType string) bool
}

// ScopeGate is a PermissionGate backed by the actor's API key scopes. A scope
// grants either one action ("quotation:accept") or everything on a resource
// type ("quotation:*").
type ScopeGate struct{}

// Authorize checks the actor's scopes for action on resourceType.
func (ScopeGate) Authorize(_ context.Context, actor Actor, action, resourceType string) bool {
	want := resourceType + ":" + action
	wild := resourceType + ":*"
	for _, s := range actor.Scopes {
		if s == want || s == wild || s == "*" {
			return true
		}
	}
	return false
}
