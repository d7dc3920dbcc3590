package api

import "time"

type PropertyRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type CreateTriggerRequest struct {
	Name         string `json:"name"`
	DefinitionID string `json:"definition_id"`

	StartsOn string `json:"starts_on"`
	EndsOn   string `json:"ends_on,omitempty"`

	CronExpression       string `json:"cron_expression,omitempty"`
	RetryIntervalSeconds int    `json:"retry_interval_seconds,omitempty"`

	Properties []PropertyRequest `json:"properties,omitempty"`
}

type UpdateTriggerRequest struct {
	Name   string `json:"name"`
	EndsOn string `json:"ends_on,omitempty"`

	Properties []PropertyRequest `json:"properties,omitempty"`
}

type TriggerResponse struct {
	ID           string `json:"id"`
	ScopeID      string `json:"scope_id"`
	Name         string `json:"name"`
	DefinitionID string `json:"definition_id"`

	StartsOn string `json:"starts_on"`
	EndsOn   string `json:"ends_on,omitempty"`

	CronExpression       string `json:"cron_expression,omitempty"`
	RetryIntervalSeconds int    `json:"retry_interval_seconds,omitempty"`

	Properties []PropertyRequest `json:"properties,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
	Total    int64             `json:"total"`
}

type NotificationRequest struct {
	ScopeID     string `json:"scope_id"`
	OperationID string `json:"operation_id"`
	Resource    string `json:"resource"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	SentOn      string `json:"sent_on,omitempty"`
}

type OperationResponse struct {
	OperationID string `json:"operation_id"`
	ScopeID     string `json:"scope_id"`
	Resource    string `json:"resource"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	LastUpdate  string `json:"last_update"`
	CreatedAt   string `json:"created_at"`
}

type ListOperationsResponse struct {
	Operations []OperationResponse `json:"operations"`
}

type StartJobRequest struct {
	Options map[string]string `json:"options,omitempty"`
}

type DispatchCommandRequest struct {
	Resource string            `json:"resource"`
	JobID    string            `json:"job_id,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
}

type DispatchCommandResponse struct {
	OperationID string `json:"operation_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
