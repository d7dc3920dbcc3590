package domain

import (
	"time"

	"github.com/google/uuid"
)

type PropertyType string

const (
	PropertyTypeString PropertyType = "string"
	PropertyTypeInt    PropertyType = "int"
	PropertyTypeBool   PropertyType = "bool"
	PropertyTypeID     PropertyType = "id"
)

// TriggerProperty is a typed name/value pair attached to a trigger.
// On a TriggerDefinition the Value is empty; only Name and Type are declared.
type TriggerProperty struct {
	Name  string       `json:"name"`
	Type  PropertyType `json:"type"`
	Value string       `json:"value,omitempty"`
}

// Trigger is a declarative schedule bound to a job.
// Name is unique within a scope. Exactly one of CronExpression /
// RetryIntervalSeconds drives the firing semantics.
type Trigger struct {
	ID      uuid.UUID
	ScopeID uuid.UUID

	Name         string
	DefinitionID uuid.UUID

	StartsOn time.Time
	EndsOn   *time.Time

	CronExpression       string
	RetryIntervalSeconds int

	Properties []TriggerProperty

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Property returns the trigger property with the given name, if present.
func (t Trigger) Property(name string) (TriggerProperty, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return TriggerProperty{}, false
}
