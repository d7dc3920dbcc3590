// Package postgres persists triggers, trigger definitions, pending
// operations and job targets.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
	"github.com/djlord-it/opsched/internal/notification"
	"github.com/djlord-it/opsched/internal/trigger"
)

// Store implements trigger.Store plus the notification-correlation
// stores using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a trigger. Returns trigger.ErrDuplicateName when the
// per-scope unique index on (scope_id, name) rejects the row; under
// concurrent creates with the same name exactly one insert wins.
func (s *Store) Create(ctx context.Context, t domain.Trigger) error {
	props, err := json.Marshal(t.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertTrigger,
		t.ID,
		t.ScopeID,
		t.Name,
		t.DefinitionID,
		t.StartsOn,
		t.EndsOn,
		t.CronExpression,
		t.RetryIntervalSeconds,
		props,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return trigger.ErrDuplicateName
		}
		return err
	}
	return nil
}

func (s *Store) Update(ctx context.Context, t domain.Trigger) error {
	props, err := json.Marshal(t.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}

	result, err := s.db.ExecContext(ctx, queryUpdateTrigger,
		t.ScopeID,
		t.ID,
		t.Name,
		t.StartsOn,
		t.EndsOn,
		t.CronExpression,
		t.RetryIntervalSeconds,
		props,
		t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return trigger.ErrDuplicateName
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return trigger.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, scopeID, triggerID uuid.UUID) error {
	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteTrigger, scopeID, triggerID).Scan(&deletedID)
	if err == sql.ErrNoRows {
		return trigger.ErrNotFound
	}
	return err
}

func (s *Store) Find(ctx context.Context, scopeID, triggerID uuid.UUID) (domain.Trigger, error) {
	row := s.db.QueryRowContext(ctx, queryGetTrigger, scopeID, triggerID)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return domain.Trigger{}, trigger.ErrNotFound
	}
	return t, err
}

func (s *Store) Query(ctx context.Context, q trigger.Query) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, queryListTriggers, q.ScopeID, q.Name, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) Count(ctx context.Context, q trigger.Query) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, queryCountTriggers, q.ScopeID, q.Name).Scan(&count)
	return count, err
}

func (s *Store) CountByName(ctx context.Context, scopeID uuid.UUID, name string, excludeID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, queryCountTriggersByName, scopeID, name, excludeID).Scan(&count)
	return count, err
}

// ListActiveTriggers returns triggers whose end bound has not passed,
// paginated by limit and offset. Used by the reconciliation sweep.
func (s *Store) ListActiveTriggers(ctx context.Context, now time.Time, limit, offset int) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, queryListActiveTriggers, now, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) FindDefinition(ctx context.Context, definitionID uuid.UUID) (domain.TriggerDefinition, error) {
	return s.scanDefinition(s.db.QueryRowContext(ctx, queryGetDefinition, definitionID))
}

func (s *Store) FindDefinitionByName(ctx context.Context, name string) (domain.TriggerDefinition, error) {
	return s.scanDefinition(s.db.QueryRowContext(ctx, queryGetDefinitionByName, name))
}

func (s *Store) scanDefinition(row *sql.Row) (domain.TriggerDefinition, error) {
	var def domain.TriggerDefinition
	var props []byte
	err := row.Scan(&def.ID, &def.Name, &props)
	if err == sql.ErrNoRows {
		return domain.TriggerDefinition{}, trigger.ErrNotFound
	}
	if err != nil {
		return domain.TriggerDefinition{}, err
	}
	if err := json.Unmarshal(props, &def.Properties); err != nil {
		return domain.TriggerDefinition{}, fmt.Errorf("unmarshal definition properties: %w", err)
	}
	return def, nil
}

// CreateOperation records a freshly dispatched remote operation.
func (s *Store) CreateOperation(ctx context.Context, op domain.PendingOperation) error {
	_, err := s.db.ExecContext(ctx, queryInsertOperation,
		op.ScopeID,
		op.OperationID,
		op.Resource,
		string(op.Status),
		op.Progress,
		op.LastUpdate,
		op.CreatedAt,
	)
	return err
}

// ApplyNotification applies a notification update to a pending
// operation. The guard in the WHERE clause makes the update monotonic:
// an event older than the last applied one changes nothing. Zero rows
// either means the operation does not exist or the event is stale;
// the two are distinguished with a follow-up read.
func (s *Store) ApplyNotification(ctx context.Context, scopeID, operationID uuid.UUID, eventTime time.Time, resource string, status domain.OperationStatus, progress int) error {
	result, err := s.db.ExecContext(ctx, queryApplyOperationNotification,
		scopeID,
		operationID,
		resource,
		string(status),
		progress,
		eventTime,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		var currentStatus string
		err := s.db.QueryRowContext(ctx, queryGetOperationStatus, scopeID, operationID).Scan(&currentStatus)
		if err == sql.ErrNoRows {
			return notification.ErrOperationNotFound
		}
		if err != nil {
			return err
		}
		// Row exists but wasn't updated: the event is stale. No-op.
	}
	return nil
}

func (s *Store) FindOperation(ctx context.Context, scopeID, operationID uuid.UUID) (domain.PendingOperation, error) {
	var op domain.PendingOperation
	var status string
	err := s.db.QueryRowContext(ctx, queryGetOperation, scopeID, operationID).Scan(
		&op.ScopeID,
		&op.OperationID,
		&op.Resource,
		&status,
		&op.Progress,
		&op.LastUpdate,
		&op.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.PendingOperation{}, notification.ErrOperationNotFound
	}
	if err != nil {
		return domain.PendingOperation{}, err
	}
	op.Status = domain.OperationStatus(status)
	return op, nil
}

// ListOperations returns operations for a scope, newest first.
func (s *Store) ListOperations(ctx context.Context, scopeID uuid.UUID, limit, offset int) ([]domain.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, queryListOperations, scopeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PendingOperation
	for rows.Next() {
		var op domain.PendingOperation
		var status string
		err := rows.Scan(
			&op.ScopeID,
			&op.OperationID,
			&op.Resource,
			&status,
			&op.Progress,
			&op.LastUpdate,
			&op.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		op.Status = domain.OperationStatus(status)
		result = append(result, op)
	}
	return result, rows.Err()
}

// MarkStaleOperations flags running operations with no update since
// olderThan. Returns the number of operations marked.
func (s *Store) MarkStaleOperations(ctx context.Context, olderThan, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryMarkStaleOperations, olderThan, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateJobTarget records the job-orchestration row for a dispatched
// operation.
func (s *Store) CreateJobTarget(ctx context.Context, jt domain.JobTarget) error {
	_, err := s.db.ExecContext(ctx, queryInsertJobTarget,
		jt.ID,
		jt.ScopeID,
		jt.JobID,
		jt.TargetID,
		jt.OperationID,
		string(jt.Status),
		jt.StatusUpdatedAt,
		jt.CreatedAt,
	)
	return err
}

// jobTargets exposes the job-target side of notification processing as
// its own receiver so both stores can live on one connection pool.
type jobTargets struct {
	store *Store
}

// JobTargets returns the notification.JobTargetStore view.
func (s *Store) JobTargets() notification.JobTargetStore {
	return jobTargets{store: s}
}

// ApplyNotification updates the job target correlated with the
// operation. Progress never reaches this table. A missing row is a
// no-op: operations dispatched outside a job have no target.
func (t jobTargets) ApplyNotification(ctx context.Context, scopeID, operationID uuid.UUID, eventTime time.Time, resource string, status domain.OperationStatus) error {
	_, err := t.store.db.ExecContext(ctx, queryApplyJobTargetNotification,
		scopeID,
		operationID,
		string(targetStatus(status)),
		eventTime,
	)
	return err
}

// targetStatus projects an operation status onto the job-target
// lifecycle.
func targetStatus(status domain.OperationStatus) domain.JobTargetStatus {
	switch status {
	case domain.OperationStatusCompleted:
		return domain.JobTargetStatusCompleted
	case domain.OperationStatusFailed, domain.OperationStatusStale:
		return domain.JobTargetStatusFailed
	default:
		return domain.JobTargetStatusAwaiting
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var t domain.Trigger
	var endsOn sql.NullTime
	var props []byte

	err := row.Scan(
		&t.ID,
		&t.ScopeID,
		&t.Name,
		&t.DefinitionID,
		&t.StartsOn,
		&endsOn,
		&t.CronExpression,
		&t.RetryIntervalSeconds,
		&props,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.Trigger{}, err
	}
	if endsOn.Valid {
		end := endsOn.Time
		t.EndsOn = &end
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &t.Properties); err != nil {
			return domain.Trigger{}, fmt.Errorf("unmarshal trigger properties: %w", err)
		}
	}
	return t, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique
// violation without tying the check to a specific driver error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// Compile-time interface assertions
var (
	_ trigger.Store               = (*Store)(nil)
	_ notification.OperationStore = (*Store)(nil)
	_ notification.JobTargetStore = (jobTargets{})
)
