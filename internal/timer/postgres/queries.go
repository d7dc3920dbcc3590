package postgres

const queryHasJobDefinition = `
SELECT EXISTS (
    SELECT 1 FROM timer_job_definitions WHERE name = $1 AND grp = $2
)
`

const queryInsertJobDefinition = `
INSERT INTO timer_job_definitions (name, grp, durable, created_at)
VALUES ($1, $2, $3, $4)
`

const queryInsertEntry = `
INSERT INTO timer_entries (
    name, grp, job_name, job_grp, data,
    kind, cron_expr, interval_seconds, starts_on, ends_on,
    next_run, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const queryDeleteEntriesByPrefix = `
DELETE FROM timer_entries
WHERE grp = $1
  AND (name = $2 OR name LIKE $2 || '-%')
`

const queryEntryExistsByPrefix = `
SELECT EXISTS (
    SELECT 1 FROM timer_entries
    WHERE grp = $1
      AND (name = $2 OR name LIKE $2 || '-%')
)
`

const queryClaimDueEntries = `
SELECT name, grp, job_name, job_grp, data,
       kind, cron_expr, interval_seconds, starts_on, ends_on,
       next_run, created_at
FROM timer_entries
WHERE next_run <= $1
ORDER BY next_run ASC
FOR UPDATE SKIP LOCKED
LIMIT $2
`

const queryUpdateNextRun = `
UPDATE timer_entries
SET next_run = $3
WHERE name = $1 AND grp = $2
`

const queryDeleteEntry = `
DELETE FROM timer_entries
WHERE name = $1 AND grp = $2
`
