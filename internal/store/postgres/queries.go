package postgres

const queryInsertTrigger = `
INSERT INTO triggers (id, scope_id, name, definition_id, starts_on, ends_on, cron_expression, retry_interval_seconds, properties, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryUpdateTrigger = `
UPDATE triggers
SET name = $3,
    starts_on = $4,
    ends_on = $5,
    cron_expression = $6,
    retry_interval_seconds = $7,
    properties = $8,
    updated_at = $9
WHERE scope_id = $1 AND id = $2
`

const queryDeleteTrigger = `
DELETE FROM triggers WHERE scope_id = $1 AND id = $2
RETURNING id
`

const queryGetTrigger = `
SELECT id, scope_id, name, definition_id, starts_on, ends_on,
       cron_expression, retry_interval_seconds, properties,
       created_at, updated_at
FROM triggers
WHERE scope_id = $1 AND id = $2
`

const queryListTriggers = `
SELECT id, scope_id, name, definition_id, starts_on, ends_on,
       cron_expression, retry_interval_seconds, properties,
       created_at, updated_at
FROM triggers
WHERE scope_id = $1
  AND ($2 = '' OR name = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`

const queryCountTriggers = `
SELECT COUNT(*)
FROM triggers
WHERE scope_id = $1
  AND ($2 = '' OR name = $2)
`

const queryCountTriggersByName = `
SELECT COUNT(*)
FROM triggers
WHERE scope_id = $1
  AND name = $2
  AND id <> $3
`

const queryListActiveTriggers = `
SELECT id, scope_id, name, definition_id, starts_on, ends_on,
       cron_expression, retry_interval_seconds, properties,
       created_at, updated_at
FROM triggers
WHERE ends_on IS NULL OR ends_on > $1
ORDER BY id
LIMIT $2 OFFSET $3
`

const queryGetDefinition = `
SELECT id, name, properties
FROM trigger_definitions
WHERE id = $1
`

const queryGetDefinitionByName = `
SELECT id, name, properties
FROM trigger_definitions
WHERE name = $1
`

const queryInsertOperation = `
INSERT INTO pending_operations (scope_id, operation_id, resource, status, progress, last_update, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryApplyOperationNotification = `
UPDATE pending_operations
SET resource = $3,
    status = $4,
    progress = $5,
    last_update = $6
WHERE scope_id = $1
  AND operation_id = $2
  AND last_update <= $6
`

const queryGetOperationStatus = `
SELECT status FROM pending_operations WHERE scope_id = $1 AND operation_id = $2
`

const queryGetOperation = `
SELECT scope_id, operation_id, resource, status, progress, last_update, created_at
FROM pending_operations
WHERE scope_id = $1 AND operation_id = $2
`

const queryListOperations = `
SELECT scope_id, operation_id, resource, status, progress, last_update, created_at
FROM pending_operations
WHERE scope_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryInsertJobTarget = `
INSERT INTO job_targets (id, scope_id, job_id, target_id, operation_id, status, status_updated_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryApplyJobTargetNotification = `
UPDATE job_targets
SET status = $3,
    status_updated_at = $4
WHERE scope_id = $1
  AND operation_id = $2
  AND status_updated_at <= $4
`

const queryMarkStaleOperations = `
UPDATE pending_operations
SET status = 'stale', last_update = $2
WHERE status = 'running'
  AND last_update < $1
`
