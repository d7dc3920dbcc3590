package timer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/schedule"
)

// mockEngine records definitions and entries in memory.
type mockEngine struct {
	mu          sync.Mutex
	definitions map[JobKey]JobDefinition
	entries     map[EntryKey]Entry

	scheduleErr error
	addDefErr   error
	addDefCalls int
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		definitions: make(map[JobKey]JobDefinition),
		entries:     make(map[EntryKey]Entry),
	}
}

func (e *mockEngine) HasJobDefinition(ctx context.Context, key JobKey) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.definitions[key]
	return ok, nil
}

func (e *mockEngine) AddJobDefinition(ctx context.Context, def JobDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addDefCalls++
	if e.addDefErr != nil {
		return e.addDefErr
	}
	if _, ok := e.definitions[def.Key]; ok {
		return ErrDefinitionExists
	}
	e.definitions[def.Key] = def
	return nil
}

func (e *mockEngine) Schedule(ctx context.Context, entry Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scheduleErr != nil {
		return e.scheduleErr
	}
	e.entries[entry.Key] = entry
	return nil
}

func (e *mockEngine) Unschedule(ctx context.Context, group, namePrefix string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.entries {
		if key.Group == group && matchesPrefix(key.Name, namePrefix) {
			delete(e.entries, key)
		}
	}
	return nil
}

func (e *mockEngine) Exists(ctx context.Context, group, namePrefix string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.entries {
		if key.Group == group && matchesPrefix(key.Name, namePrefix) {
			return true, nil
		}
	}
	return false, nil
}

func matchesPrefix(name, prefix string) bool {
	return name == prefix || strings.HasPrefix(name, prefix+"-")
}

func (e *mockEngine) entryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func TestAdapter_EnsureLauncher_Idempotent(t *testing.T) {
	engine := newMockEngine()
	adapter := NewAdapter(engine)
	ctx := context.Background()

	if err := adapter.EnsureLauncher(ctx); err != nil {
		t.Fatalf("EnsureLauncher() error = %v", err)
	}
	if err := adapter.EnsureLauncher(ctx); err != nil {
		t.Fatalf("second EnsureLauncher() error = %v", err)
	}

	if engine.addDefCalls != 1 {
		t.Errorf("AddJobDefinition called %d times, want 1", engine.addDefCalls)
	}
}

func TestAdapter_EnsureLauncher_DuplicateCreateIsSuccess(t *testing.T) {
	engine := newMockEngine()
	// Simulate a concurrent ensure winning the check-then-create race.
	engine.addDefErr = ErrDefinitionExists

	adapter := NewAdapter(engine)
	if err := adapter.EnsureLauncher(context.Background()); err != nil {
		t.Errorf("EnsureLauncher() error = %v, want nil on duplicate create", err)
	}
}

func TestAdapter_EnsureLauncher_OtherErrorPropagates(t *testing.T) {
	engine := newMockEngine()
	engine.addDefErr = errors.New("engine unreachable")

	adapter := NewAdapter(engine)
	if err := adapter.EnsureLauncher(context.Background()); err == nil {
		t.Error("EnsureLauncher() error = nil, want engine error propagated")
	}
}

func TestAdapter_Register_AttachesPropertyBag(t *testing.T) {
	engine := newMockEngine()
	adapter := NewAdapter(engine)

	scopeID := uuid.New()
	jobID := uuid.New()
	triggerID := uuid.New()
	spec := schedule.Spec{
		Kind:            schedule.KindInterval,
		IntervalSeconds: 60,
		StartsOn:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	key, err := adapter.Register(context.Background(), scopeID, jobID, triggerID, spec, map[string]string{
		DataJobStartOptions: "resume",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if key.Group != scopeID.String() {
		t.Errorf("key group = %q, want scope id", key.Group)
	}
	if !strings.HasPrefix(key.Name, triggerID.String()+"-") {
		t.Errorf("key name = %q, want trigger id prefix", key.Name)
	}

	entry, ok := engine.entries[key]
	if !ok {
		t.Fatal("entry not scheduled")
	}
	if entry.Data[DataScopeID] != scopeID.String() ||
		entry.Data[DataJobID] != jobID.String() ||
		entry.Data[DataTriggerID] != triggerID.String() ||
		entry.Data[DataJobStartOptions] != "resume" {
		t.Errorf("entry data = %v, missing expected keys", entry.Data)
	}
	if entry.Job != (JobKey{Name: LauncherName, Group: LauncherGroup}) {
		t.Errorf("entry job = %+v, want launcher", entry.Job)
	}
}

func TestAdapter_Register_EngineRejectionSurfaced(t *testing.T) {
	engine := newMockEngine()
	engine.scheduleErr = ErrNeverFires

	adapter := NewAdapter(engine)
	spec := schedule.Spec{Kind: schedule.KindCron, CronExpr: "0 0 * * * ?"}

	_, err := adapter.Register(context.Background(), uuid.New(), uuid.New(), uuid.New(), spec, nil)
	if !errors.Is(err, ErrScheduleRegistration) {
		t.Errorf("Register() error = %v, want ErrScheduleRegistration", err)
	}
}

func TestAdapter_Unregister_Idempotent(t *testing.T) {
	engine := newMockEngine()
	adapter := NewAdapter(engine)
	ctx := context.Background()

	scopeID := uuid.New()
	triggerID := uuid.New()
	spec := schedule.Spec{Kind: schedule.KindInterval, IntervalSeconds: 30, StartsOn: time.Now().UTC()}

	if _, err := adapter.Register(ctx, scopeID, uuid.New(), triggerID, spec, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if engine.entryCount() != 1 {
		t.Fatalf("entry count = %d, want 1", engine.entryCount())
	}

	if err := adapter.Unregister(ctx, scopeID, triggerID); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if engine.entryCount() != 0 {
		t.Fatalf("entry count after unregister = %d, want 0", engine.entryCount())
	}

	// Second unregister of an absent entry is a no-op.
	if err := adapter.Unregister(ctx, scopeID, triggerID); err != nil {
		t.Errorf("second Unregister() error = %v, want nil", err)
	}
}

func TestAdapter_FireOnce(t *testing.T) {
	engine := newMockEngine()
	adapter := NewAdapter(engine)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	adapter.clock = func() time.Time { return now }

	scopeID := uuid.New()
	jobID := uuid.New()

	key, err := adapter.FireOnce(context.Background(), scopeID, jobID, nil)
	if err != nil {
		t.Fatalf("FireOnce() error = %v", err)
	}

	entry := engine.entries[key]
	if entry.Spec.Kind != schedule.KindOnce {
		t.Errorf("spec kind = %q, want once", entry.Spec.Kind)
	}
	if !entry.Spec.StartsOn.Equal(now) {
		t.Errorf("spec starts on = %v, want %v", entry.Spec.StartsOn, now)
	}
	if !strings.HasPrefix(key.Name, jobID.String()+"-") {
		t.Errorf("key name = %q, want job id prefix", key.Name)
	}
}
