package projection

import (
	"fmt"

	"agritrace/internal/models"
)

// InvalidTransitionError reports an event that arrived for a batch in a state
// that forbids it. The event is skipped and logged; it is never applied.
type InvalidTransitionError struct {
	BatchID   string
	EventType models.EventType
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %s for batch %s: %s", e.EventType, e.BatchID, e.Reason)
}

// DuplicateCreationError reports a BatchCreated event for a batch that
// already has a projection with a different payload. A replayed creation
// whose payload matches the projection is an idempotent no-op instead.
type DuplicateCreationError struct {
	BatchID string
	Reason  string
}

func (e *DuplicateCreationError) Error() string {
	return fmt.Sprintf("duplicate creation for batch %s: %s", e.BatchID, e.Reason)
}
