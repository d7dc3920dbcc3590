package circuitbreaker

import (
	"testing"
	"time"
)

func TestAllow_UnknownKey_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	if err := cb.Allow("deploy"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")
	if err := cb.Allow("deploy"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb := New(3, 5*time.Second)
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")
	if err := cb.Allow("deploy"); err == nil {
		t.Fatal("expected ErrCircuitOpen, got nil")
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := New(3, time.Minute).WithClock(func() time.Time { return now })
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")

	now = now.Add(2 * time.Minute)
	if err := cb.Allow("deploy"); err != nil {
		t.Fatalf("expected nil (probe allowed), got %v", err)
	}
	if err := cb.Allow("deploy"); err == nil {
		t.Fatal("expected ErrCircuitOpen while half-open probe in flight")
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := New(3, time.Minute).WithClock(func() time.Time { return now })
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")

	now = now.Add(2 * time.Minute)
	cb.Allow("deploy")
	cb.RecordSuccess("deploy")
	if err := cb.Allow("deploy"); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := New(3, time.Minute).WithClock(func() time.Time { return now })
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")

	now = now.Add(2 * time.Minute)
	cb.Allow("deploy")
	cb.RecordFailure("deploy")
	if err := cb.Allow("deploy"); err == nil {
		t.Fatal("expected ErrCircuitOpen after probe failure re-open")
	}
}

func TestRecordSuccess_ClosedState_NoOp(t *testing.T) {
	cb := New(3, 5*time.Second)
	cb.RecordSuccess("deploy")
	if err := cb.Allow("deploy"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIndependentKeys(t *testing.T) {
	cb := New(2, 5*time.Second)
	cb.RecordFailure("deploy")
	cb.RecordFailure("deploy")
	if err := cb.Allow("deploy"); err == nil {
		t.Fatal("expected deploy open")
	}
	if err := cb.Allow("inventory"); err != nil {
		t.Fatalf("expected inventory allowed, got %v", err)
	}
}
