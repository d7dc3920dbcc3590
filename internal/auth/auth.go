// Package auth defines the authorization collaborator contract and a
// static in-process implementation. Every mutating or read operation on
// scoped entities passes a permission check before any side effect.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrPermissionDenied = errors.New("auth: permission denied")

type Domain string

const (
	DomainScheduler Domain = "scheduler"
	DomainJob       Domain = "job"
	DomainDevice    Domain = "device"
)

type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
)

// Authorizer checks whether the current caller may perform an action in
// a scope. Implementations return ErrPermissionDenied on denial.
type Authorizer interface {
	CheckPermission(ctx context.Context, domain Domain, action Action, scopeID uuid.UUID) error
}

type grantKey struct {
	scope  uuid.UUID
	domain Domain
	action Action
}

// StaticAuthorizer grants permissions from an in-memory table. The
// zero-value denies everything; NewAllowAll permits everything.
type StaticAuthorizer struct {
	mu       sync.RWMutex
	grants   map[grantKey]struct{}
	allowAll bool
}

func NewStatic() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[grantKey]struct{})}
}

func NewAllowAll() *StaticAuthorizer {
	return &StaticAuthorizer{allowAll: true}
}

func (a *StaticAuthorizer) Grant(scopeID uuid.UUID, domain Domain, action Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grants[grantKey{scope: scopeID, domain: domain, action: action}] = struct{}{}
}

func (a *StaticAuthorizer) CheckPermission(ctx context.Context, domain Domain, action Action, scopeID uuid.UUID) error {
	if a.allowAll {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.grants[grantKey{scope: scopeID, domain: domain, action: action}]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s:%s in scope %s", ErrPermissionDenied, domain, action, scopeID)
}
