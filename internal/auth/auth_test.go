package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestStaticAuthorizer_GrantedAndDenied(t *testing.T) {
	scope := uuid.New()
	other := uuid.New()

	a := NewStatic()
	a.Grant(scope, DomainScheduler, ActionWrite)

	ctx := context.Background()

	if err := a.CheckPermission(ctx, DomainScheduler, ActionWrite, scope); err != nil {
		t.Errorf("granted permission denied: %v", err)
	}
	if err := a.CheckPermission(ctx, DomainScheduler, ActionDelete, scope); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("ungranted action error = %v, want ErrPermissionDenied", err)
	}
	if err := a.CheckPermission(ctx, DomainScheduler, ActionWrite, other); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("other scope error = %v, want ErrPermissionDenied", err)
	}
}

func TestAllowAll(t *testing.T) {
	a := NewAllowAll()
	if err := a.CheckPermission(context.Background(), DomainJob, ActionExecute, uuid.New()); err != nil {
		t.Errorf("allow-all denied: %v", err)
	}
}
