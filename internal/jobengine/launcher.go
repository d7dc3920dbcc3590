package jobengine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/opsched/internal/timer"
)

// Launcher is the fire handler behind the shared launcher job
// definition. It decodes the entry property bag and hands the start
// request to the engine.
type Launcher struct {
	starter JobStarter
}

func NewLauncher(starter JobStarter) *Launcher {
	return &Launcher{starter: starter}
}

// HandleFire runs on every timer entry fire. Malformed property bags
// return an error without reaching the engine.
func (l *Launcher) HandleFire(ctx context.Context, data map[string]string) error {
	scopeID, err := uuid.Parse(data[timer.DataScopeID])
	if err != nil {
		return fmt.Errorf("jobengine: bad %s in entry data: %w", timer.DataScopeID, err)
	}
	jobID, err := uuid.Parse(data[timer.DataJobID])
	if err != nil {
		return fmt.Errorf("jobengine: bad %s in entry data: %w", timer.DataJobID, err)
	}

	options := make(map[string]string)
	for k, v := range data {
		switch k {
		case timer.DataScopeID, timer.DataJobID, timer.DataTriggerID:
			continue
		}
		options[k] = v
	}

	return l.starter.StartJob(ctx, StartRequest{
		ScopeID: scopeID,
		JobID:   jobID,
		Options: options,
	})
}
