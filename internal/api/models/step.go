package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// StepType discriminates what a pipeline step refers to
type StepType string

const (
	StepTypeMapping StepType = "mappingConfiguration"
	StepTypeQuery   StepType = "queryConfiguration"
)

// StepOutput names the artifacts a step produces, relative to the
// solid storage directory.
type StepOutput struct {
	Result           string `json:"result" validate:"required"`
	ProvenanceResult string `json:"provenanceResult,omitempty"`
}

// StepRecord is one stage of a pipeline. ForID must resolve to a mapping or
// query configuration record; Input lists the pod files a query step reads.
type StepRecord struct {
	Type   StepType    `json:"type" validate:"required"`
	ForID  string      `json:"forId" validate:"required"`
	Output *StepOutput `json:"output" validate:"required"`
	Input  []string    `json:"input,omitempty"`
}

var stepValidate = validator.New()

// ValidateStepRecord checks the required properties of a step record.
// Validation happens eagerly, when a pipeline is selected, so authoring
// mistakes surface before any execution attempt.
func ValidateStepRecord(record StepRecord) error {
	if err := stepValidate.Struct(record); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			return fmt.Errorf("required property %q not present in step record (forId=%q)", fieldToProperty(invalid[0].Field()), record.ForID)
		}
		return err
	}
	return nil
}

func fieldToProperty(field string) string {
	switch field {
	case "Type":
		return "type"
	case "ForID":
		return "forId"
	case "Output":
		return "output"
	case "Result":
		return "output.result"
	default:
		return field
	}
}
