package models

// ExecutionStatus is the state of the execution state machine. The machine
// (internal/engine) is the only writer of this value.
type ExecutionStatus string

const (
	// StatusIdle means no execution has been requested for the current
	// selection. Stored as the absence of the EXECUTION_STATUS slot.
	StatusIdle ExecutionStatus = ""

	StatusPreconditionChecks ExecutionStatus = "PRECONDITION_CHECKS"
	StatusInitExecution      ExecutionStatus = "INIT_EXECUTION"

	// StatusExecuting is reserved for step-level progress reporting.
	// No transition currently enters it.
	StatusExecuting ExecutionStatus = "EXECUTING"

	StatusDone   ExecutionStatus = "DONE"
	StatusFailed ExecutionStatus = "FAILED"
)

// Terminal reports whether the status ends the current attempt.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Iteration is the persisted cursor of the precondition retry loop.
// The precondition list itself is rebuilt from configuration on demand;
// only this cursor survives a restart.
type Iteration struct {
	Index   int `json:"index"`
	Retries int `json:"retries"`
}
