package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
	"github.com/djlord-it/opsched/internal/schedule"
	"github.com/djlord-it/opsched/internal/timer"
)

type mockStore struct {
	mu       sync.Mutex
	triggers []domain.Trigger
	listErr  error
	marked   int64
	markErr  error
}

func (s *mockStore) ListActiveTriggers(ctx context.Context, now time.Time, limit, offset int) ([]domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if offset >= len(s.triggers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.triggers) {
		end = len(s.triggers)
	}
	return s.triggers[offset:end], nil
}

func (s *mockStore) MarkStaleOperations(ctx context.Context, olderThan, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return 0, s.markErr
	}
	return s.marked, nil
}

type mockScheduler struct {
	mu         sync.Mutex
	registered map[uuid.UUID]bool
	registers  []uuid.UUID
	checkErr   error
	regErr     error
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{registered: make(map[uuid.UUID]bool)}
}

func (m *mockScheduler) IsRegistered(ctx context.Context, scopeID, triggerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.registered[triggerID], nil
}

func (m *mockScheduler) Register(ctx context.Context, scopeID, jobID, triggerID uuid.UUID, spec schedule.Spec, properties map[string]string) (timer.EntryKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.regErr != nil {
		return timer.EntryKey{}, m.regErr
	}
	m.registered[triggerID] = true
	m.registers = append(m.registers, triggerID)
	return timer.EntryKey{Name: triggerID.String(), Group: scopeID.String()}, nil
}

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func intervalTrigger(jobID uuid.UUID) domain.Trigger {
	return domain.Trigger{
		ID:                   uuid.New(),
		ScopeID:              uuid.New(),
		Name:                 "nightly-deploy",
		StartsOn:             testNow.Add(-time.Hour),
		RetryIntervalSeconds: 60,
		Properties: []domain.TriggerProperty{
			{Name: timer.DataJobID, Type: domain.PropertyTypeID, Value: jobID.String()},
		},
	}
}

func TestReconcileTrigger_ReregistersOrphan(t *testing.T) {
	jobID := uuid.New()
	orphan := intervalTrigger(jobID)
	store := &mockStore{triggers: []domain.Trigger{orphan}}
	sched := newMockScheduler()

	r := New(DefaultConfig(), store, sched).WithClock(func() time.Time { return testNow })
	r.runCycle(context.Background())

	if len(sched.registers) != 1 || sched.registers[0] != orphan.ID {
		t.Fatalf("registers = %v, want [%s]", sched.registers, orphan.ID)
	}
}

func TestReconcileTrigger_SkipsLiveEntry(t *testing.T) {
	trig := intervalTrigger(uuid.New())
	store := &mockStore{triggers: []domain.Trigger{trig}}
	sched := newMockScheduler()
	sched.registered[trig.ID] = true

	r := New(DefaultConfig(), store, sched).WithClock(func() time.Time { return testNow })
	r.runCycle(context.Background())

	if len(sched.registers) != 0 {
		t.Errorf("registers = %v, want none for a live entry", sched.registers)
	}
}

func TestReconcileTrigger_SkipsExpired(t *testing.T) {
	trig := intervalTrigger(uuid.New())
	ended := testNow.Add(-time.Minute)
	trig.EndsOn = &ended

	store := &mockStore{triggers: []domain.Trigger{trig}}
	sched := newMockScheduler()

	r := New(DefaultConfig(), store, sched).WithClock(func() time.Time { return testNow })
	r.runCycle(context.Background())

	if len(sched.registers) != 0 {
		t.Errorf("registers = %v, want none past the end bound", sched.registers)
	}
}

func TestSweep_OneBadTriggerDoesNotStopOthers(t *testing.T) {
	broken := intervalTrigger(uuid.New())
	broken.Properties = nil // no job id property
	healthy := intervalTrigger(uuid.New())

	store := &mockStore{triggers: []domain.Trigger{broken, healthy}}
	sched := newMockScheduler()

	r := New(DefaultConfig(), store, sched).WithClock(func() time.Time { return testNow })
	r.runCycle(context.Background())

	if len(sched.registers) != 1 || sched.registers[0] != healthy.ID {
		t.Errorf("registers = %v, want only %s", sched.registers, healthy.ID)
	}
}

func TestSweep_Paginates(t *testing.T) {
	var triggers []domain.Trigger
	for i := 0; i < 7; i++ {
		triggers = append(triggers, intervalTrigger(uuid.New()))
	}
	store := &mockStore{triggers: triggers}
	sched := newMockScheduler()

	cfg := DefaultConfig()
	cfg.BatchSize = 3
	r := New(cfg, store, sched).WithClock(func() time.Time { return testNow })
	r.runCycle(context.Background())

	if len(sched.registers) != 7 {
		t.Errorf("re-registered %d triggers, want 7", len(sched.registers))
	}
}

func TestSweep_ListFailureAbortsCycle(t *testing.T) {
	store := &mockStore{listErr: errors.New("connection refused")}
	sched := newMockScheduler()

	r := New(DefaultConfig(), store, sched).WithClock(func() time.Time { return testNow })
	r.runCycle(context.Background())

	if len(sched.registers) != 0 {
		t.Errorf("registers = %v, want none on list failure", sched.registers)
	}
}

type recordingMetrics struct {
	mu           sync.Mutex
	reregistered []int
	stale        []int64
}

func (m *recordingMetrics) TriggersReregistered(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reregistered = append(m.reregistered, count)
}

func (m *recordingMetrics) OperationsMarkedStale(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale = append(m.stale, count)
}

func TestSweep_MarksStaleOperations(t *testing.T) {
	store := &mockStore{marked: 4}
	sched := newMockScheduler()
	metrics := &recordingMetrics{}

	r := New(DefaultConfig(), store, sched).WithMetrics(metrics).WithClock(func() time.Time { return testNow })
	r.runCycle(context.Background())

	if len(metrics.stale) != 1 || metrics.stale[0] != 4 {
		t.Errorf("stale metric = %v, want [4]", metrics.stale)
	}
}
