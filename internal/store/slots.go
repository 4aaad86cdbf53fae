package store

import (
	"transfer/internal/api/models"
)

// Slot key names. The layout matches what the browser-based predecessor kept
// in localStorage, so the execution context reads the same across versions.
const (
	KeyConfigurationRecords       = "CONFIGURATION_RECORDS"
	KeySelectedPipelineID         = "SELECTED_PIPELINE_ID"
	KeyCurrentPipelineStepIndex   = "CURRENT_PIPELINE_STEP_INDEX"
	KeyMappingContent             = "MAPPING_CONTENT"
	KeyMappingProvider            = "MAPPING_PROVIDER"
	KeyExecutionStatus            = "EXECUTION_STATUS"
	KeyPreconditionCheckIteration = "PRECONDITION_CHECK_ITERATION"
)

// Slots bundles the typed slots of the execution context. Each slot has a
// single writer role: the engine writes ExecutionStatus and
// PreconditionCheckIteration, selection handling writes the pipeline and
// mapping slots, the configuration service writes ConfigurationRecords.
type Slots struct {
	ConfigurationRecords       JSONSlot[[]models.ConfigurationRecord]
	SelectedPipelineID         StringSlot
	CurrentPipelineStepIndex   IntSlot
	MappingContent             StringSlot
	MappingProvider            StringSlot
	ExecutionStatus            StringSlot
	PreconditionCheckIteration JSONSlot[models.Iteration]
}

func NewSlots(s Store) *Slots {
	return &Slots{
		ConfigurationRecords:       NewJSONSlot[[]models.ConfigurationRecord](s, KeyConfigurationRecords),
		SelectedPipelineID:         NewStringSlot(s, KeySelectedPipelineID),
		CurrentPipelineStepIndex:   NewIntSlot(s, KeyCurrentPipelineStepIndex),
		MappingContent:             NewStringSlot(s, KeyMappingContent),
		MappingProvider:            NewStringSlot(s, KeyMappingProvider),
		ExecutionStatus:            NewStringSlot(s, KeyExecutionStatus),
		PreconditionCheckIteration: NewJSONSlot[models.Iteration](s, KeyPreconditionCheckIteration),
	}
}
