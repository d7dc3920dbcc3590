package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
)

type mockStore struct {
	mu         sync.Mutex
	operations []domain.PendingOperation
	targets    []domain.JobTarget
	opErr      error
	targetErr  error
}

func (s *mockStore) CreateOperation(ctx context.Context, op domain.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opErr != nil {
		return s.opErr
	}
	s.operations = append(s.operations, op)
	return nil
}

func (s *mockStore) CreateJobTarget(ctx context.Context, jt domain.JobTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetErr != nil {
		return s.targetErr
	}
	s.targets = append(s.targets, jt)
	return nil
}

type mockSink struct {
	mu   sync.Mutex
	sent []uuid.UUID
	err  error
}

func (s *mockSink) Send(ctx context.Context, operationID uuid.UUID, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, operationID)
	return nil
}

func testCommand(jobID uuid.UUID) Command {
	return Command{
		ScopeID:  uuid.New(),
		TargetID: uuid.New(),
		JobID:    jobID,
		Resource: "deploy",
		Payload:  map[string]string{"uri": "http://packages/agent-2.1.0.dp"},
	}
}

func TestDispatch_JobCommand(t *testing.T) {
	store := &mockStore{}
	sink := &mockSink{}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := NewDispatcher(store, sink).WithClock(func() time.Time { return now })

	jobID := uuid.New()
	operationID, err := d.Dispatch(context.Background(), testCommand(jobID))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(store.operations) != 1 {
		t.Fatalf("got %d operations, want 1", len(store.operations))
	}
	op := store.operations[0]
	if op.OperationID != operationID {
		t.Errorf("operation id = %s, want %s", op.OperationID, operationID)
	}
	if op.Status != domain.OperationStatusRunning || op.Progress != 0 {
		t.Errorf("new operation = %q/%d, want running/0", op.Status, op.Progress)
	}
	if !op.LastUpdate.Equal(now) {
		t.Errorf("last update = %v, want %v", op.LastUpdate, now)
	}

	if len(store.targets) != 1 {
		t.Fatalf("got %d job targets, want 1", len(store.targets))
	}
	jt := store.targets[0]
	if jt.JobID != jobID || jt.OperationID != operationID {
		t.Errorf("job target = job %s op %s, want job %s op %s", jt.JobID, jt.OperationID, jobID, operationID)
	}
	if jt.Status != domain.JobTargetStatusAwaiting {
		t.Errorf("job target status = %q, want awaiting", jt.Status)
	}

	if len(sink.sent) != 1 || sink.sent[0] != operationID {
		t.Errorf("sink got %v, want [%s]", sink.sent, operationID)
	}
}

func TestDispatch_DirectCommandHasNoJobTarget(t *testing.T) {
	store := &mockStore{}
	sink := &mockSink{}
	d := NewDispatcher(store, sink)

	if _, err := d.Dispatch(context.Background(), testCommand(uuid.Nil)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(store.targets) != 0 {
		t.Errorf("direct command created %d job targets, want 0", len(store.targets))
	}
	if len(store.operations) != 1 {
		t.Errorf("got %d operations, want 1", len(store.operations))
	}
}

func TestDispatch_RowsWrittenBeforeSend(t *testing.T) {
	store := &mockStore{}
	sink := &mockSink{err: errors.New("connection refused")}
	d := NewDispatcher(store, sink)

	operationID, err := d.Dispatch(context.Background(), testCommand(uuid.New()))
	if err == nil {
		t.Fatal("Dispatch() error = nil, want send failure")
	}
	if operationID == uuid.Nil {
		t.Error("operation id not returned on send failure")
	}
	// The operation row stays so the stale sweep can pick it up.
	if len(store.operations) != 1 || len(store.targets) != 1 {
		t.Errorf("got %d operations, %d targets after send failure, want 1 and 1",
			len(store.operations), len(store.targets))
	}
}

func TestDispatch_StoreFailureSkipsSend(t *testing.T) {
	store := &mockStore{opErr: errors.New("pq: relation does not exist")}
	sink := &mockSink{}
	d := NewDispatcher(store, sink)

	if _, err := d.Dispatch(context.Background(), testCommand(uuid.Nil)); err == nil {
		t.Fatal("Dispatch() error = nil, want store failure")
	}
	if len(sink.sent) != 0 {
		t.Error("command sent despite store failure")
	}
}

func TestDispatch_RejectsMissingFields(t *testing.T) {
	d := NewDispatcher(&mockStore{}, &mockSink{})

	tests := []struct {
		name string
		mut  func(*Command)
	}{
		{"missing scope", func(c *Command) { c.ScopeID = uuid.Nil }},
		{"missing target", func(c *Command) { c.TargetID = uuid.Nil }},
		{"missing resource", func(c *Command) { c.Resource = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := testCommand(uuid.Nil)
			tt.mut(&cmd)
			if _, err := d.Dispatch(context.Background(), cmd); err == nil {
				t.Error("Dispatch() error = nil, want validation failure")
			}
		})
	}
}
