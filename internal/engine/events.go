package engine

import (
	"transfer/internal/api/models"
)

// event is the closed set of tagged variants the dispatcher processes.
// External triggers and internal completions both arrive through the same
// queue, so transitions apply in arrival order on a single goroutine.
type event interface {
	isEvent()
}

// selectionChanged carries the id of the newly selected pipeline. An empty
// id means the default "no selection" option.
type selectionChanged struct {
	pipelineID string
}

// executeRequested starts a fresh execution attempt for the current
// selection.
type executeRequested struct{}

// cursorChanged re-enters the precondition loop after the cursor advanced
// or a retry was consumed. attemptID ties the tick to the attempt that
// produced it; a re-execute mid-loop leaves the old stream's ticks stale.
type cursorChanged struct {
	attemptID string
	iteration models.Iteration
}

// initExecution dispatches the selected pipeline's step once all
// preconditions are satisfied.
type initExecution struct{}

func (selectionChanged) isEvent() {}
func (executeRequested) isEvent() {}
func (cursorChanged) isEvent()    {}
func (initExecution) isEvent()    {}
