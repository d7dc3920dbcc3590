package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/domain"
	"github.com/djlord-it/opsched/internal/schedule"
)

func validateCreateTrigger(req CreateTriggerRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.DefinitionID == "" {
		return fmt.Errorf("definition_id is required")
	}
	if _, err := uuid.Parse(req.DefinitionID); err != nil {
		return fmt.Errorf("invalid definition_id: %w", err)
	}

	if req.StartsOn == "" {
		return fmt.Errorf("starts_on is required")
	}
	if _, err := time.Parse(time.RFC3339, req.StartsOn); err != nil {
		return fmt.Errorf("invalid starts_on: %w", err)
	}
	if req.EndsOn != "" {
		if _, err := time.Parse(time.RFC3339, req.EndsOn); err != nil {
			return fmt.Errorf("invalid ends_on: %w", err)
		}
	}

	if req.CronExpression == "" && req.RetryIntervalSeconds == 0 {
		return fmt.Errorf("one of cron_expression or retry_interval_seconds is required")
	}
	if req.CronExpression != "" {
		if err := schedule.Validate(req.CronExpression); err != nil {
			return fmt.Errorf("invalid cron_expression: %w", err)
		}
	}
	if req.RetryIntervalSeconds < 0 {
		return fmt.Errorf("retry_interval_seconds must be positive")
	}

	return nil
}

func validateNotification(req NotificationRequest) error {
	if _, err := uuid.Parse(req.ScopeID); err != nil {
		return fmt.Errorf("invalid scope_id: %w", err)
	}
	if _, err := uuid.Parse(req.OperationID); err != nil {
		return fmt.Errorf("invalid operation_id: %w", err)
	}
	if !domain.ValidOperationStatus(domain.OperationStatus(req.Status)) {
		return fmt.Errorf("unknown status %q", req.Status)
	}
	if req.Progress < 0 || req.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100")
	}
	if req.SentOn != "" {
		if _, err := time.Parse(time.RFC3339, req.SentOn); err != nil {
			return fmt.Errorf("invalid sent_on: %w", err)
		}
	}
	return nil
}

func validateDispatchCommand(req DispatchCommandRequest) error {
	if req.Resource == "" {
		return fmt.Errorf("resource is required")
	}
	if req.JobID != "" {
		if _, err := uuid.Parse(req.JobID); err != nil {
			return fmt.Errorf("invalid job_id: %w", err)
		}
	}
	return nil
}

func parseProperties(props []PropertyRequest) []domain.TriggerProperty {
	if len(props) == 0 {
		return nil
	}
	result := make([]domain.TriggerProperty, len(props))
	for i, p := range props {
		result[i] = domain.TriggerProperty{
			Name:  p.Name,
			Type:  domain.PropertyType(p.Type),
			Value: p.Value,
		}
	}
	return result
}
