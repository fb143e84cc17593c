package syncengine

import (
	"time"

	"github.com/hyperengineering/synccore/internal/model"
)

// SyncOptions parameterizes a sync() call.
type SyncOptions struct {
	Mode        model.SyncMode
	Since       time.Time // zero value means "from the beginning"
	Sources     []model.Source
	EntityTypes []model.EntityType
}

// priorityFor assigns a Change its queuing tier: delete goes
// high, metadata goes low, everything else is normal.
func priorityFor(c model.Change) model.Priority {
	switch {
	case c.Operation == model.OperationDelete:
		return model.PriorityHigh
	case c.EntityType == model.EntityMetadata:
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}
