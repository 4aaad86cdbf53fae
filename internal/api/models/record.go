package models

import (
	"fmt"
)

// RecordType discriminates the configuration record variants
type RecordType string

const (
	RecordTypePipeline           RecordType = "pipeline"
	RecordTypeMapping            RecordType = "mapping"
	RecordTypeQuery              RecordType = "query"
	RecordTypeSolidConfiguration RecordType = "solidConfiguration"
	RecordTypeAuthorizationFlow  RecordType = "authorizationFlowConfiguration"
)

// DefaultMaxAuthorizationAttempts applies when no
// authorizationFlowConfiguration record is present or it omits the field.
const DefaultMaxAuthorizationAttempts = 10

// ConfigurationRecord is one entry of the remote configuration document.
// The document mixes several record kinds in a single list; the Type field
// selects which of the variant fields are meaningful. Dispatch points switch
// on Type exhaustively and treat anything unknown as a fatal error.
type ConfigurationRecord struct {
	ID   string     `json:"id" validate:"required"`
	Type RecordType `json:"type" validate:"required"`

	// pipeline
	Description string       `json:"description,omitempty"`
	Steps       []StepRecord `json:"steps,omitempty"`

	// mapping
	Provider string `json:"provider,omitempty"`

	// mapping + query
	File string `json:"file,omitempty"`

	// solidConfiguration
	StorageDirectory string `json:"storageDirectory,omitempty"`

	// authorizationFlowConfiguration
	MaximumAuthorizationAttempts *int `json:"maximumAuthorizationAttempts,omitempty"`
}

// ConfigurationDocument is the payload served by the configuration source.
type ConfigurationDocument struct {
	ConfigurationRecords []ConfigurationRecord `json:"configurationRecords"`
}

// PipelineOption is one selectable pipeline in the pipeline picker.
type PipelineOption struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// RecordByID returns the first record with the given id.
func RecordByID(records []ConfigurationRecord, id string) (ConfigurationRecord, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return ConfigurationRecord{}, false
}

// FilterByType returns all records of type t, order preserved.
func FilterByType(records []ConfigurationRecord, t RecordType) []ConfigurationRecord {
	var out []ConfigurationRecord
	for _, r := range records {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// ValidatePipelineRecord checks the structural invariants of a pipeline record.
func ValidatePipelineRecord(record ConfigurationRecord) error {
	if record.Type != RecordTypePipeline {
		return fmt.Errorf("record %q is not a pipeline (got type %q)", record.ID, record.Type)
	}
	if len(record.Steps) < 1 {
		return fmt.Errorf("pipeline %q has an empty list of steps, a pipeline record must contain at least 1 step record", record.ID)
	}
	for i, step := range record.Steps {
		if err := ValidateStepRecord(step); err != nil {
			return fmt.Errorf("pipeline %q step %d: %w", record.ID, i, err)
		}
	}
	return nil
}

// MaxAuthorizationAttempts resolves the retry bound from the
// authorizationFlowConfiguration record, falling back to the default.
func MaxAuthorizationAttempts(records []ConfigurationRecord) int {
	flows := FilterByType(records, RecordTypeAuthorizationFlow)
	if len(flows) == 0 || flows[0].MaximumAuthorizationAttempts == nil {
		return DefaultMaxAuthorizationAttempts
	}
	return *flows[0].MaximumAuthorizationAttempts
}
