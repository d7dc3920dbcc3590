package domain

import "github.com/google/uuid"

// Well-known trigger definition names. These are reference data rows
// resolved once at startup; callers compare definitions by ID, never by
// matching the name string at call time.
const (
	DefinitionIntervalJob = "Interval Job"
	DefinitionCronJob     = "Cron Job"
)

// TriggerDefinition is the schema describing which named, typed
// properties a trigger kind accepts. Read-mostly reference data.
type TriggerDefinition struct {
	ID         uuid.UUID
	Name       string
	Properties []TriggerProperty
}

// DeclaredProperty returns the declared property with the given name.
func (d TriggerDefinition) DeclaredProperty(name string) (TriggerProperty, bool) {
	for _, p := range d.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return TriggerProperty{}, false
}
