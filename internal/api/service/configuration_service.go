package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"transfer"
	"transfer/internal/api/models"
	"transfer/internal/store"

	"github.com/rs/zerolog"
)

// ConfigurationService fetches the configuration document describing
// pipelines, mappings, queries and authorization settings, and caches the
// records in the durable store so a restarted session sees the same set.
type ConfigurationService struct {
	configurationURL string
	httpClient       *http.Client
	slots            *store.Slots
	logger           zerolog.Logger
}

func NewConfigurationService(configurationURL string, slots *store.Slots) *ConfigurationService {
	return &ConfigurationService{
		configurationURL: configurationURL,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		slots:            slots,
		logger:           transfer.Logger,
	}
}

// Fetch retrieves the configuration document from the configured URL. Network
// or parse failures are logged and yield an empty record set rather than an
// error, so the caller renders an empty pipeline list instead of crashing.
func (slf *ConfigurationService) Fetch(ctx context.Context) []models.ConfigurationRecord {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, slf.configurationURL, nil)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error building configuration request")
		return []models.ConfigurationRecord{}
	}

	resp, err := slf.httpClient.Do(req)
	if err != nil {
		slf.logger.Error().Err(err).Str("url", slf.configurationURL).Msg("Error while fetching configuration records")
		return []models.ConfigurationRecord{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slf.logger.Error().Int("status", resp.StatusCode).Str("url", slf.configurationURL).Msg("Error while fetching configuration records")
		return []models.ConfigurationRecord{}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error reading configuration response")
		return []models.ConfigurationRecord{}
	}

	var document models.ConfigurationDocument
	if err := json.Unmarshal(body, &document); err != nil {
		slf.logger.Error().Err(err).Msg("Error parsing configuration records")
		return []models.ConfigurationRecord{}
	}
	if document.ConfigurationRecords == nil {
		return []models.ConfigurationRecord{}
	}
	return document.ConfigurationRecords
}

// Refresh fetches the configuration document and replaces the cached
// records. A failed fetch yields an empty set and leaves the cache alone.
func (slf *ConfigurationService) Refresh(ctx context.Context) ([]models.ConfigurationRecord, error) {
	records := slf.Fetch(ctx)
	if len(records) == 0 {
		return records, nil
	}
	if err := slf.slots.ConfigurationRecords.Set(ctx, records); err != nil {
		return nil, fmt.Errorf("caching configuration records: %w", err)
	}
	return records, nil
}

// Records returns the cached configuration records, fetching and caching them
// on first use.
func (slf *ConfigurationService) Records(ctx context.Context) ([]models.ConfigurationRecord, error) {
	records, ok, err := slf.slots.ConfigurationRecords.Get(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return records, nil
	}
	return slf.Refresh(ctx)
}

// StepAndReferent resolves the step of the given pipeline at stepIndex
// together with the configuration record the step's forId points at. Every
// failure here is fatal for an execution: an unknown pipeline id, a step index
// past the end of the pipeline, or a step whose forId resolves to nothing.
func (slf *ConfigurationService) StepAndReferent(records []models.ConfigurationRecord, pipelineID string, stepIndex int) (models.StepRecord, models.ConfigurationRecord, error) {
	pipeline, found := models.RecordByID(records, pipelineID)
	if !found || pipeline.Type != models.RecordTypePipeline {
		return models.StepRecord{}, models.ConfigurationRecord{}, fmt.Errorf("pipeline %q not found in configuration records", pipelineID)
	}
	if err := models.ValidatePipelineRecord(pipeline); err != nil {
		return models.StepRecord{}, models.ConfigurationRecord{}, fmt.Errorf("pipeline %q is invalid: %w", pipelineID, err)
	}
	if stepIndex < 0 || stepIndex >= len(pipeline.Steps) {
		return models.StepRecord{}, models.ConfigurationRecord{}, fmt.Errorf("step index %d out of range for pipeline %q with %d steps", stepIndex, pipelineID, len(pipeline.Steps))
	}

	step := pipeline.Steps[stepIndex]
	if err := models.ValidateStepRecord(step); err != nil {
		return models.StepRecord{}, models.ConfigurationRecord{}, fmt.Errorf("step %d of pipeline %q is invalid: %w", stepIndex, pipelineID, err)
	}

	referent, found := models.RecordByID(records, step.ForID)
	if !found {
		return models.StepRecord{}, models.ConfigurationRecord{}, fmt.Errorf("step %d of pipeline %q references unknown record %q", stepIndex, pipelineID, step.ForID)
	}
	return step, referent, nil
}

// PipelineOptions lists the selectable pipelines as id/description pairs.
func (slf *ConfigurationService) PipelineOptions(records []models.ConfigurationRecord) []models.PipelineOption {
	pipelines := models.FilterByType(records, models.RecordTypePipeline)
	options := make([]models.PipelineOption, 0, len(pipelines))
	for _, p := range pipelines {
		options = append(options, models.PipelineOption{ID: p.ID, Description: p.Description})
	}
	return options
}
