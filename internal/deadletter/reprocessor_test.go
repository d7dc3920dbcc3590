package deadletter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
	"github.com/djlord-it/opsched/internal/transport/channel"
)

type mockProcessor struct {
	mu    sync.Mutex
	errs  []error // one per call, nil past the end
	calls []domain.NotificationEvent
}

func (p *mockProcessor) Process(ctx context.Context, event domain.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, event)
	if len(p.calls) <= len(p.errs) {
		return p.errs[len(p.calls)-1]
	}
	return nil
}

func (p *mockProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type mockDeadLetterMetrics struct {
	mu          sync.Mutex
	reprocessed map[domain.ErrorClass]int
	dropped     map[domain.ErrorClass]int
	requeued    map[domain.ErrorClass]int
}

func newMockDeadLetterMetrics() *mockDeadLetterMetrics {
	return &mockDeadLetterMetrics{
		reprocessed: make(map[domain.ErrorClass]int),
		dropped:     make(map[domain.ErrorClass]int),
		requeued:    make(map[domain.ErrorClass]int),
	}
}

func (m *mockDeadLetterMetrics) ErrorReprocessed(class domain.ErrorClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reprocessed[class]++
}

func (m *mockDeadLetterMetrics) ErrorDropped(class domain.ErrorClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[class]++
}

func (m *mockDeadLetterMetrics) ErrorRequeued(class domain.ErrorClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued[class]++
}

func (m *mockDeadLetterMetrics) snapshot() (rep, drop, req map[domain.ErrorClass]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep = make(map[domain.ErrorClass]int, len(m.reprocessed))
	drop = make(map[domain.ErrorClass]int, len(m.dropped))
	req = make(map[domain.ErrorClass]int, len(m.requeued))
	for k, v := range m.reprocessed {
		rep[k] = v
	}
	for k, v := range m.dropped {
		drop[k] = v
	}
	for k, v := range m.requeued {
		req[k] = v
	}
	return rep, drop, req
}

func deadEvent(resource string) domain.NotificationEvent {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.NotificationEvent{
		ScopeID:     uuid.New(),
		OperationID: uuid.New(),
		Resource:    resource,
		Status:      domain.OperationStatusCompleted,
		Progress:    100,
		SentOn:      &ts,
		ReceivedOn:  ts,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestReprocessor_CommunicationRetrySucceeds(t *testing.T) {
	bus := channel.NewNotificationBus(8)
	proc := &mockProcessor{}
	metrics := newMockDeadLetterMetrics()

	rp := NewReprocessor(bus, proc).WithMetrics(metrics).WithRetryDelay(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rp.Run(ctx)

	if err := bus.EmitError(ctx, domain.ErrorClassCommunication, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}

	waitFor(t, func() bool { return proc.callCount() == 1 })
	waitFor(t, func() bool {
		rep, _, _ := metrics.snapshot()
		return rep[domain.ErrorClassCommunication] == 1
	})
}

func TestReprocessor_CommunicationRequeuesUntilSuccess(t *testing.T) {
	bus := channel.NewNotificationBus(8)
	proc := &mockProcessor{errs: []error{errors.New("connection refused"), errors.New("connection refused")}}
	metrics := newMockDeadLetterMetrics()

	rp := NewReprocessor(bus, proc).WithMetrics(metrics).WithRetryDelay(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rp.Run(ctx)

	if err := bus.EmitError(ctx, domain.ErrorClassCommunication, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}

	// Two failures requeue, the third attempt lands.
	waitFor(t, func() bool { return proc.callCount() == 3 })
	waitFor(t, func() bool {
		rep, _, req := metrics.snapshot()
		return rep[domain.ErrorClassCommunication] == 1 && req[domain.ErrorClassCommunication] == 2
	})
}

func TestReprocessor_DropsNonRetryableClasses(t *testing.T) {
	bus := channel.NewNotificationBus(8)
	proc := &mockProcessor{}
	metrics := newMockDeadLetterMetrics()

	rp := NewReprocessor(bus, proc).WithMetrics(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rp.Run(ctx)

	if err := bus.EmitError(ctx, domain.ErrorClassConfiguration, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}
	if err := bus.EmitError(ctx, domain.ErrorClassGeneric, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}

	waitFor(t, func() bool {
		_, drop, _ := metrics.snapshot()
		return drop[domain.ErrorClassConfiguration] == 1 && drop[domain.ErrorClassGeneric] == 1
	})
	if proc.callCount() != 0 {
		t.Errorf("processor called %d times for non-retryable classes, want 0", proc.callCount())
	}
}

func TestReprocessor_OpenBreakerSkipsAttempt(t *testing.T) {
	bus := channel.NewNotificationBus(8)
	proc := &mockProcessor{}
	metrics := newMockDeadLetterMetrics()

	openBreaker := &stubBreaker{allowErr: errors.New("circuit breaker is open")}
	rp := NewReprocessor(bus, proc).WithBreaker(openBreaker).WithMetrics(metrics).WithRetryDelay(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rp.Run(ctx)

	if err := bus.EmitError(ctx, domain.ErrorClassCommunication, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}

	waitFor(t, func() bool {
		_, _, req := metrics.snapshot()
		return req[domain.ErrorClassCommunication] >= 2
	})
	if proc.callCount() != 0 {
		t.Errorf("processor called %d times behind open breaker, want 0", proc.callCount())
	}
}

func TestReprocessor_AbandonedRequeueCountsAsDropped(t *testing.T) {
	bus := channel.NewNotificationBus(8)
	proc := &mockProcessor{errs: []error{errors.New("connection refused")}}
	metrics := newMockDeadLetterMetrics()

	// A delay far longer than the test so cancellation lands mid-wait.
	rp := NewReprocessor(bus, proc).WithMetrics(metrics).WithRetryDelay(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go rp.Run(ctx)

	if err := bus.EmitError(ctx, domain.ErrorClassCommunication, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}

	waitFor(t, func() bool { return proc.callCount() == 1 })
	cancel()

	// The abandoned event is accounted as dropped, never as requeued.
	waitFor(t, func() bool {
		_, drop, _ := metrics.snapshot()
		return drop[domain.ErrorClassCommunication] == 1
	})
	_, _, req := metrics.snapshot()
	if req[domain.ErrorClassCommunication] != 0 {
		t.Errorf("requeued = %d for an event that never went back on the queue, want 0", req[domain.ErrorClassCommunication])
	}
}

func TestReprocessor_FailingRedriveDoesNotStallDrops(t *testing.T) {
	bus := channel.NewNotificationBus(8)
	proc := &mockProcessor{errs: []error{errors.New("connection refused")}}
	metrics := newMockDeadLetterMetrics()

	rp := NewReprocessor(bus, proc).WithMetrics(metrics).WithRetryDelay(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rp.Run(ctx)

	if err := bus.EmitError(ctx, domain.ErrorClassCommunication, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}
	// The failed redrive is now waiting out its retry delay.
	waitFor(t, func() bool { return proc.callCount() == 1 })

	if err := bus.EmitError(ctx, domain.ErrorClassConfiguration, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}
	if err := bus.EmitError(ctx, domain.ErrorClassGeneric, deadEvent("deploy")); err != nil {
		t.Fatalf("EmitError() error = %v", err)
	}

	waitFor(t, func() bool {
		_, drop, _ := metrics.snapshot()
		return drop[domain.ErrorClassConfiguration] == 1 && drop[domain.ErrorClassGeneric] == 1
	})
}

type stubBreaker struct {
	mu       sync.Mutex
	allowErr error
	failures int
}

func (b *stubBreaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowErr
}

func (b *stubBreaker) RecordSuccess(key string) {}

func (b *stubBreaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
}
