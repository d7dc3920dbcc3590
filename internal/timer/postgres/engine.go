// Package postgres implements the durable timer engine on PostgreSQL.
//
// Entries survive process restarts; due entries are claimed with
// FOR UPDATE SKIP LOCKED so multiple runner instances never fire the
// same entry twice.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/djlord-it/opsched/internal/schedule"
	"github.com/djlord-it/opsched/internal/timer"
)

// Engine implements timer.Engine using PostgreSQL via sqlx.
type Engine struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewEngine(db *sqlx.DB) *Engine {
	return &Engine{
		db:    db,
		clock: time.Now,
	}
}

// entryRow is the persisted form of a timer entry.
type entryRow struct {
	Name            string         `db:"name"`
	Group           string         `db:"grp"`
	JobName         string         `db:"job_name"`
	JobGroup        string         `db:"job_grp"`
	Data            []byte         `db:"data"`
	Kind            string         `db:"kind"`
	CronExpr        sql.NullString `db:"cron_expr"`
	IntervalSeconds sql.NullInt64  `db:"interval_seconds"`
	StartsOn        time.Time      `db:"starts_on"`
	EndsOn          sql.NullTime   `db:"ends_on"`
	NextRun         time.Time      `db:"next_run"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r entryRow) spec() schedule.Spec {
	spec := schedule.Spec{
		Kind:     schedule.Kind(r.Kind),
		StartsOn: r.StartsOn.UTC(),
	}
	if r.CronExpr.Valid {
		spec.CronExpr = r.CronExpr.String
	}
	if r.IntervalSeconds.Valid {
		spec.IntervalSeconds = int(r.IntervalSeconds.Int64)
	}
	if r.EndsOn.Valid {
		end := r.EndsOn.Time.UTC()
		spec.EndsOn = &end
	}
	return spec
}

func (r entryRow) dataMap() (map[string]string, error) {
	data := make(map[string]string)
	if len(r.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, fmt.Errorf("decode entry data: %w", err)
	}
	return data, nil
}

func (e *Engine) HasJobDefinition(ctx context.Context, key timer.JobKey) (bool, error) {
	var exists bool
	err := e.db.GetContext(ctx, &exists, queryHasJobDefinition, key.Name, key.Group)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (e *Engine) AddJobDefinition(ctx context.Context, def timer.JobDefinition) error {
	_, err := e.db.ExecContext(ctx, queryInsertJobDefinition,
		def.Key.Name, def.Key.Group, def.Durable, e.clock().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return timer.ErrDefinitionExists
		}
		return err
	}
	return nil
}

// Schedule registers an entry. The first fire time is computed up
// front; a spec with no upcoming fire is rejected with ErrNeverFires
// rather than stored dead.
func (e *Engine) Schedule(ctx context.Context, entry timer.Entry) error {
	now := e.clock().UTC()

	firstRun, ok := entry.Spec.Next(now.Add(-time.Nanosecond))
	if !ok {
		return timer.ErrNeverFires
	}

	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("encode entry data: %w", err)
	}

	var cronExpr sql.NullString
	if entry.Spec.CronExpr != "" {
		cronExpr = sql.NullString{String: entry.Spec.CronExpr, Valid: true}
	}
	var intervalSeconds sql.NullInt64
	if entry.Spec.IntervalSeconds > 0 {
		intervalSeconds = sql.NullInt64{Int64: int64(entry.Spec.IntervalSeconds), Valid: true}
	}
	var endsOn sql.NullTime
	if entry.Spec.EndsOn != nil {
		endsOn = sql.NullTime{Time: entry.Spec.EndsOn.UTC(), Valid: true}
	}

	_, err = e.db.ExecContext(ctx, queryInsertEntry,
		entry.Key.Name, entry.Key.Group,
		entry.Job.Name, entry.Job.Group,
		data,
		string(entry.Spec.Kind), cronExpr, intervalSeconds,
		entry.Spec.StartsOn.UTC(), endsOn,
		firstRun, now,
	)
	return err
}

func (e *Engine) Unschedule(ctx context.Context, group, namePrefix string) error {
	_, err := e.db.ExecContext(ctx, queryDeleteEntriesByPrefix, group, namePrefix)
	return err
}

func (e *Engine) Exists(ctx context.Context, group, namePrefix string) (bool, error) {
	var exists bool
	err := e.db.GetContext(ctx, &exists, queryEntryExistsByPrefix, group, namePrefix)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// isUniqueViolation checks for a PostgreSQL unique violation (23505)
// without tying the check to a specific driver error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

var _ timer.Engine = (*Engine)(nil)
