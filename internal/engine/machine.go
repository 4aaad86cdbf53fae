// Package engine holds the execution state machine that drives pipeline
// transfers: pipeline selection, the precondition retry loop and step
// dispatch. All state transitions run on a single dispatcher goroutine fed
// by an event queue; the durable slots make an interrupted execution
// resumable after a restart.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transfer/internal/api/models"
	"transfer/internal/connector"
	"transfer/internal/query"
	"transfer/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProviderBackend is the surface of the data-provider backend the engine
// needs (connector.Client implements it).
type ProviderBackend interface {
	ExecuteMapping(ctx context.Context, provider, file string) (connector.MappingResult, error)
	Connected(ctx context.Context, provider string) bool
	ConnectionURL(ctx context.Context, provider string) (string, error)
	Logout(ctx context.Context) error
	FetchText(ctx context.Context, path string) (string, error)
}

// SolidGateway is the Solid session plus pod surface (solid.Gateway
// implements it).
type SolidGateway interface {
	LoggedIn() bool
	AuthorizationURL() (string, error)
	PodOrigin() (string, error)
	Logout()
	Append(ctx context.Context, url, data string) error
	Put(ctx context.Context, url, contentType, content string) error
	Read(ctx context.Context, url string) (string, error)
	Clear(ctx context.Context, url string) error
}

// ConfigurationSource resolves configuration records and pipeline steps
// (service.ConfigurationService implements it).
type ConfigurationSource interface {
	Records(ctx context.Context) ([]models.ConfigurationRecord, error)
	StepAndReferent(records []models.ConfigurationRecord, pipelineID string, stepIndex int) (models.StepRecord, models.ConfigurationRecord, error)
}

// StateReporter publishes view snapshots to connected clients.
type StateReporter interface {
	Publish(state models.ViewState)
}

// FailureNotifier reports failed executions to the operator.
type FailureNotifier interface {
	NotifyExecutionFailed(sessionID, pipelineID, reason string)
}

// errNoRecords marks a rebuild that failed because the configuration
// document could not be fetched, as opposed to one that referenced records
// that do not exist.
var errNoRecords = errors.New("no configuration records available")

// Config wires the machine's collaborators. Reporter and Notifier are
// optional; RetryDelay spaces out precondition re-checks (zero means
// immediate, used in tests).
type Config struct {
	SessionID      string
	Slots          *store.Slots
	Configurations ConfigurationSource
	Backend        ProviderBackend
	Solid          SolidGateway
	Queries        query.Engine
	Reporter       StateReporter
	Notifier       FailureNotifier
	RetryDelay     time.Duration
	Logger         zerolog.Logger
}

// Machine is the execution state machine. It is the only writer of the
// EXECUTION_STATUS and PRECONDITION_CHECK_ITERATION slots and of the view
// snapshot it publishes.
type Machine struct {
	sessionID  string
	slots      *store.Slots
	configs    ConfigurationSource
	backend    ProviderBackend
	solid      SolidGateway
	queries    query.Engine
	reporter   StateReporter
	notifier   FailureNotifier
	retryDelay time.Duration
	logger     zerolog.Logger

	events chan event

	mu   sync.Mutex
	view models.ViewState

	// attempt context, rebuilt on Execute and on resume
	attemptID     string
	preconditions []Precondition
	maxRetries    int
	step          models.StepRecord
	referent      models.ConfigurationRecord
}

func NewMachine(cfg Config) *Machine {
	return &Machine{
		sessionID:  cfg.SessionID,
		slots:      cfg.Slots,
		configs:    cfg.Configurations,
		backend:    cfg.Backend,
		solid:      cfg.Solid,
		queries:    cfg.Queries,
		reporter:   cfg.Reporter,
		notifier:   cfg.Notifier,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		events:     make(chan event, 64),
		view:       models.ViewState{SessionID: cfg.SessionID},
	}
}

// SelectPipeline posts a selection-changed event. An empty id selects the
// default "no pipeline" option.
func (m *Machine) SelectPipeline(pipelineID string) {
	m.post(selectionChanged{pipelineID: pipelineID})
}

// Execute posts an execute-requested event.
func (m *Machine) Execute() {
	m.post(executeRequested{})
}

// State returns a snapshot of the current view.
func (m *Machine) State() models.ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Run restores persisted context, resumes an interrupted execution and then
// dispatches events until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	m.restore(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.dispatch(ctx, ev)
		}
	}
}

func (m *Machine) dispatch(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case selectionChanged:
		m.handleSelectionChanged(ctx, ev.pipelineID)
	case executeRequested:
		m.handleExecuteRequested(ctx)
	case cursorChanged:
		m.handleCursorChanged(ctx, ev)
	case initExecution:
		m.handleInitExecution(ctx)
	default:
		m.logger.Error().Type("event", ev).Msg("Unhandled event type")
	}
}

func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Error().Type("event", ev).Msg("Event queue full, dropping event")
	}
}

// postCursor never drops a tick: losing one would stall the retry loop with
// no recovery path, so a full queue re-arms the tick on a short timer.
func (m *Machine) postCursor(ev cursorChanged) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn().Int("index", ev.iteration.Index).Msg("Event queue full, re-posting precondition tick")
		delay := m.retryDelay
		if delay <= 0 {
			delay = 10 * time.Millisecond
		}
		time.AfterFunc(delay, func() { m.postCursor(ev) })
	}
}

func (m *Machine) postCursorAfterDelay(ev cursorChanged) {
	if m.retryDelay <= 0 {
		m.postCursor(ev)
		return
	}
	time.AfterFunc(m.retryDelay, func() {
		m.postCursor(ev)
	})
}

// restore rebuilds the view from the durable slots and, when the previous
// run stopped mid-execution, re-enters the machine where it left off. A run
// interrupted after INIT_EXECUTION was persisted re-dispatches the step, so
// remote effects are at-least-once.
func (m *Machine) restore(ctx context.Context) {
	if pipelineID, ok, err := m.slots.SelectedPipelineID.Get(ctx); err == nil && ok {
		m.updateView(func(v *models.ViewState) { v.SelectedPipelineID = pipelineID })
	}
	if content, ok, err := m.slots.MappingContent.Get(ctx); err == nil && ok {
		m.updateView(func(v *models.ViewState) { v.MappingContent = content })
	}

	rawStatus, ok, err := m.slots.ExecutionStatus.Get(ctx)
	if err != nil || !ok {
		return
	}
	status := models.ExecutionStatus(rawStatus)
	m.updateView(func(v *models.ViewState) { v.ExecutionStatus = status })

	switch status {
	case models.StatusPreconditionChecks:
		if err := m.rebuildAttempt(ctx); err != nil {
			m.parkOrFailResume(ctx, err)
			return
		}
		iteration, found, err := m.slots.PreconditionCheckIteration.Get(ctx)
		if err != nil || !found {
			iteration = models.Iteration{}
		}
		m.logger.Info().Int("index", iteration.Index).Int("retries", iteration.Retries).Msg("Resuming precondition checks")
		m.postCursor(cursorChanged{attemptID: m.attemptID, iteration: iteration})

	case models.StatusInitExecution:
		if err := m.rebuildAttempt(ctx); err != nil {
			m.parkOrFailResume(ctx, err)
			return
		}
		m.logger.Info().Msg("Resuming interrupted step dispatch")
		m.post(initExecution{})
	}
}

// parkOrFailResume decides what a failed resume means. A missing
// configuration document is transient, so the attempt stays parked and a
// later execute request restarts it cleanly. Anything else, like a dangling
// step reference, is a real fault and fails the execution.
func (m *Machine) parkOrFailResume(ctx context.Context, err error) {
	if errors.Is(err, errNoRecords) {
		m.logger.Warn().Err(err).Msg("Configuration unavailable, resume parked")
		return
	}
	m.failExecution(ctx, fmt.Sprintf("Could not resume execution: %v", err))
}

// rebuildAttempt re-resolves the step, referent, precondition list and retry
// bound from the current configuration records. The list itself is never
// persisted; only the cursor is.
func (m *Machine) rebuildAttempt(ctx context.Context) error {
	records, err := m.configs.Records(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errNoRecords, err)
	}
	if len(records) == 0 {
		return errNoRecords
	}

	pipelineID, found, err := m.slots.SelectedPipelineID.Get(ctx)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no pipeline selected")
	}

	step, referent, err := m.configs.StepAndReferent(records, pipelineID, 0)
	if err != nil {
		return err
	}

	preconditions, err := m.preconditionsFor(referent)
	if err != nil {
		return err
	}

	m.attemptID = uuid.NewString()
	m.step = step
	m.referent = referent
	m.preconditions = preconditions
	m.maxRetries = models.MaxAuthorizationAttempts(records)
	return nil
}

func (m *Machine) handleSelectionChanged(ctx context.Context, pipelineID string) {
	m.logger.Info().Str("pipelineId", pipelineID).Msg("Pipeline selection changed")

	// Any selection change invalidates results of the previous selection.
	m.removeSlots(ctx, m.slots.CurrentPipelineStepIndex.Remove, m.slots.ExecutionStatus.Remove, m.slots.PreconditionCheckIteration.Remove)
	m.updateView(func(v *models.ViewState) {
		v.ExecutionStatus = models.StatusIdle
		v.GeneratedOutput = ""
		v.Provenance = ""
		v.Query = ""
		v.QueryResult = ""
		v.QueryProvenance = ""
		v.Alert = nil
		v.SolidLoginURL = ""
		v.ProviderConnectURL = ""
	})

	if pipelineID == "" {
		m.removeSlots(ctx, m.slots.SelectedPipelineID.Remove, m.slots.MappingProvider.Remove, m.slots.MappingContent.Remove)
		m.updateView(func(v *models.ViewState) {
			v.SelectedPipelineID = ""
			v.MappingContent = ""
		})
		m.publish()
		return
	}

	records, err := m.configs.Records(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Could not load configuration records")
		m.updateView(func(v *models.ViewState) {
			v.Alert = models.MakeDangerAlert("Could not load configuration records")
		})
		m.publish()
		return
	}

	step, referent, err := m.configs.StepAndReferent(records, pipelineID, 0)
	if err != nil {
		m.logger.Error().Err(err).Str("pipelineId", pipelineID).Msg("Invalid pipeline selection")
		// The rejected id must not leave the previous selection behind, or a
		// later execute request would silently run the old pipeline.
		m.removeSlots(ctx, m.slots.SelectedPipelineID.Remove, m.slots.MappingProvider.Remove, m.slots.MappingContent.Remove)
		m.updateView(func(v *models.ViewState) {
			v.SelectedPipelineID = ""
			v.MappingContent = ""
			v.Alert = models.MakeDangerAlert(err.Error())
		})
		m.publish()
		return
	}

	if err := m.slots.SelectedPipelineID.Set(ctx, pipelineID); err != nil {
		m.logger.Error().Err(err).Msg("Could not persist selected pipeline id")
	}
	m.updateView(func(v *models.ViewState) { v.SelectedPipelineID = pipelineID })

	// Expose the referent's content for inspection before any execution.
	content, err := m.backend.FetchText(ctx, referent.File)
	if err != nil {
		m.logger.Error().Err(err).Str("file", referent.File).Msg("Could not fetch step content")
		m.updateView(func(v *models.ViewState) {
			v.Alert = models.MakeWarningAlert(fmt.Sprintf("Could not fetch content for %s", referent.File))
		})
		m.publish()
		return
	}
	if err := m.slots.MappingContent.Set(ctx, content); err != nil {
		m.logger.Error().Err(err).Msg("Could not cache step content")
	}

	switch referent.Type {
	case models.RecordTypeMapping:
		if err := m.slots.MappingProvider.Set(ctx, referent.Provider); err != nil {
			m.logger.Error().Err(err).Msg("Could not persist mapping provider")
		}
		m.updateView(func(v *models.ViewState) { v.MappingContent = content })
	case models.RecordTypeQuery:
		m.removeSlots(ctx, m.slots.MappingProvider.Remove)
		m.updateView(func(v *models.ViewState) {
			v.MappingContent = content
			v.Query = content
		})
	}
	m.logger.Debug().Str("pipelineId", pipelineID).Str("stepType", string(step.Type)).Msg("Selection prepared")
	m.publish()
}

func (m *Machine) handleExecuteRequested(ctx context.Context) {
	current := m.State().ExecutionStatus
	if current != models.StatusIdle && !current.Terminal() && current != models.StatusPreconditionChecks {
		m.logger.Warn().Str("status", string(current)).Msg("Ignoring execute request while an execution is active")
		return
	}
	// A re-execute restarts the loop even when the previous attempt is still
	// parked in PRECONDITION_CHECKS after exhausting its retries.

	pipelineID, found, err := m.slots.SelectedPipelineID.Get(ctx)
	if err != nil || !found {
		m.updateView(func(v *models.ViewState) {
			v.Alert = models.MakeWarningAlert("No pipeline selected")
		})
		m.publish()
		return
	}

	records, err := m.configs.Records(ctx)
	if err != nil {
		m.failExecution(ctx, "Could not load configuration records")
		return
	}

	step, referent, err := m.configs.StepAndReferent(records, pipelineID, 0)
	if err != nil {
		m.failExecution(ctx, err.Error())
		return
	}

	preconditions, err := m.preconditionsFor(referent)
	if err != nil {
		m.failExecution(ctx, err.Error())
		return
	}

	m.attemptID = uuid.NewString()
	m.step = step
	m.referent = referent
	m.preconditions = preconditions
	m.maxRetries = models.MaxAuthorizationAttempts(records)

	if err := m.slots.CurrentPipelineStepIndex.Set(ctx, 0); err != nil {
		m.logger.Error().Err(err).Msg("Could not persist step index")
	}

	m.updateView(func(v *models.ViewState) {
		v.Alert = nil
		v.GeneratedOutput = ""
		v.Provenance = ""
		v.QueryResult = ""
		v.QueryProvenance = ""
	})
	m.setStatus(ctx, models.StatusPreconditionChecks)

	iteration := models.Iteration{}
	if err := m.slots.PreconditionCheckIteration.Set(ctx, iteration); err != nil {
		m.logger.Error().Err(err).Msg("Could not persist precondition cursor")
	}
	m.logger.Info().Str("pipelineId", pipelineID).Str("attemptId", m.attemptID).Msg("Execution requested, entering precondition checks")
	m.postCursor(cursorChanged{attemptID: m.attemptID, iteration: iteration})
}

func (m *Machine) handleCursorChanged(ctx context.Context, ev cursorChanged) {
	if ev.attemptID != m.attemptID || m.State().ExecutionStatus != models.StatusPreconditionChecks {
		// Stale tick from a previous attempt.
		return
	}
	iteration := ev.iteration

	if iteration.Index >= len(m.preconditions) {
		m.post(initExecution{})
		return
	}

	precondition := m.preconditions[iteration.Index]

	if iteration.Retries >= m.maxRetries {
		m.logger.Warn().Str("precondition", precondition.Name).Int("retries", iteration.Retries).Msg("Authorization attempts exhausted")
		m.updateView(func(v *models.ViewState) {
			v.Alert = models.MakeWarningAlert("Maximum number of authorization attempts reached for " + precondition.Name + ", please retry")
		})
		m.publish()
		return
	}

	satisfied, err := precondition.Check(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("precondition", precondition.Name).Msg("Precondition check failed")
		satisfied = false
	}

	if satisfied {
		next := models.Iteration{Index: iteration.Index + 1, Retries: 0}
		if err := m.slots.PreconditionCheckIteration.Set(ctx, next); err != nil {
			m.logger.Error().Err(err).Msg("Could not persist precondition cursor")
		}
		m.postCursor(cursorChanged{attemptID: m.attemptID, iteration: next})
		return
	}

	if err := precondition.Establish(ctx); err != nil {
		m.logger.Error().Err(err).Str("precondition", precondition.Name).Msg("Could not establish precondition")
	}
	m.publish()

	next := models.Iteration{Index: iteration.Index, Retries: iteration.Retries + 1}
	if err := m.slots.PreconditionCheckIteration.Set(ctx, next); err != nil {
		m.logger.Error().Err(err).Msg("Could not persist precondition cursor")
	}
	m.postCursorAfterDelay(cursorChanged{attemptID: m.attemptID, iteration: next})
}

func (m *Machine) handleInitExecution(ctx context.Context) {
	m.setStatus(ctx, models.StatusInitExecution)
	m.runStep(ctx)

	if m.State().ExecutionStatus == models.StatusFailed && m.notifier != nil {
		reason := ""
		if alert := m.State().Alert; alert != nil {
			reason = alert.Message
		}
		m.notifier.NotifyExecutionFailed(m.sessionID, m.State().SelectedPipelineID, reason)
	}
}

// setStatus persists and publishes a status transition. Nothing else writes
// the EXECUTION_STATUS slot.
func (m *Machine) setStatus(ctx context.Context, status models.ExecutionStatus) {
	if status == models.StatusIdle {
		if err := m.slots.ExecutionStatus.Remove(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Could not clear execution status")
		}
	} else if err := m.slots.ExecutionStatus.Set(ctx, string(status)); err != nil {
		m.logger.Error().Err(err).Msg("Could not persist execution status")
	}

	m.updateView(func(v *models.ViewState) { v.ExecutionStatus = status })
	m.logger.Info().Str("status", string(status)).Str("attemptId", m.attemptID).Msg("Execution status changed")
	m.publish()
}

func (m *Machine) failExecution(ctx context.Context, message string) {
	m.logger.Error().Str("reason", message).Msg("Execution failed")
	m.updateView(func(v *models.ViewState) {
		v.Alert = models.MakeDangerAlert(message)
	})
	m.setStatus(ctx, models.StatusFailed)
}

func (m *Machine) updateView(mutate func(v *models.ViewState)) {
	m.mu.Lock()
	mutate(&m.view)
	m.mu.Unlock()
}

func (m *Machine) publish() {
	if m.reporter == nil {
		return
	}
	m.reporter.Publish(m.State())
}

func (m *Machine) removeSlots(ctx context.Context, removers ...func(ctx context.Context) error) {
	for _, remove := range removers {
		if err := remove(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Could not remove slot")
		}
	}
}
