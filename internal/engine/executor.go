package engine

import (
	"context"
	"fmt"
	"strings"

	"transfer/internal/api/models"
	"transfer/internal/query"
)

// runStep dispatches the current step against its referent. INIT_EXECUTION
// was persisted before this runs, so a crash mid-step repeats the remote
// call on resume (at-least-once).
func (m *Machine) runStep(ctx context.Context) {
	records, err := m.configs.Records(ctx)
	if err != nil {
		m.failExecution(ctx, "Could not load configuration records")
		return
	}

	storageDirectory, err := storageDirectoryOf(records)
	if err != nil {
		m.failExecution(ctx, err.Error())
		return
	}

	origin, err := m.solid.PodOrigin()
	if err != nil {
		m.failExecution(ctx, "No active Solid session")
		return
	}

	switch m.referent.Type {
	case models.RecordTypeMapping:
		m.runMappingStep(ctx, origin, storageDirectory)
	case models.RecordTypeQuery:
		m.runQueryStep(ctx, origin, storageDirectory)
	default:
		m.failExecution(ctx, fmt.Sprintf("cannot execute step for record type %q", m.referent.Type))
	}
}

// runMappingStep executes the mapping remotely and stores the produced
// artifacts on the pod. Empty artifacts and pod write failures degrade to
// warning messages; the step still ends DONE.
func (m *Machine) runMappingStep(ctx context.Context, origin, storageDirectory string) {
	result, err := m.backend.ExecuteMapping(ctx, m.referent.Provider, m.referent.File)
	if err != nil {
		m.failExecution(ctx, fmt.Sprintf("Mapping execution failed: %v", err))
		return
	}

	var messages []string

	if result.RDF != "" {
		m.updateView(func(v *models.ViewState) { v.GeneratedOutput = result.RDF })
		target := podResource(origin, storageDirectory, m.step.Output.Result)
		if err := m.solid.Append(ctx, target, result.RDF); err != nil {
			m.logger.Error().Err(err).Str("target", target).Msg("Could not store generated RDF on the pod")
			messages = append(messages, "Could not store generated RDF data on the pod")
		} else {
			m.logger.Info().Str("target", target).Msg("Stored generated RDF on the pod")
		}
	} else {
		messages = append(messages, "Generated RDF data is empty")
	}

	if result.Prov != "" {
		m.updateView(func(v *models.ViewState) { v.Provenance = result.Prov })
		if m.step.Output.ProvenanceResult != "" {
			target := podResource(origin, storageDirectory, m.step.Output.ProvenanceResult)
			if err := m.solid.Append(ctx, target, result.Prov); err != nil {
				m.logger.Error().Err(err).Str("target", target).Msg("Could not store provenance on the pod")
				messages = append(messages, "Could not store provenance data on the pod")
			} else {
				m.logger.Info().Str("target", target).Msg("Stored provenance on the pod")
			}
		}
	} else {
		messages = append(messages, "Provenance data is empty")
	}

	if len(messages) > 0 {
		m.updateView(func(v *models.ViewState) {
			v.Alert = models.MakeWarningAlert(strings.Join(messages, " "))
		})
	}
	m.setStatus(ctx, models.StatusDone)
}

// runQueryStep fetches the query text, runs it over the pod sources and
// persists result and metadata. Result and metadata complete independently;
// an engine error fails the attempt.
func (m *Machine) runQueryStep(ctx context.Context, origin, storageDirectory string) {
	queryText, err := m.backend.FetchText(ctx, m.referent.File)
	if err != nil {
		m.failExecution(ctx, fmt.Sprintf("Could not fetch query %s: %v", m.referent.ID, err))
		return
	}
	m.updateView(func(v *models.ViewState) { v.Query = queryText })

	sources := make([]string, 0, len(m.step.Input))
	for _, input := range m.step.Input {
		sources = append(sources, podResource(origin, storageDirectory, input))
	}

	step := m.step
	queryID := m.referent.ID

	m.queries.Execute(ctx, queryText, sources, query.Hooks{
		OnResult: func(result string) {
			m.updateView(func(v *models.ViewState) { v.QueryResult = result })
			target := podResource(origin, storageDirectory, step.Output.Result)
			if err := m.solid.Put(ctx, target, contentTypeFor(step.Output.Result), result); err != nil {
				m.logger.Error().Err(err).Str("target", target).Msg("Could not store query result on the pod")
				m.updateView(func(v *models.ViewState) {
					v.Alert = models.MakeWarningAlert("Could not store the query result on the pod")
				})
			}
			m.setStatus(ctx, models.StatusDone)
		},
		OnMetadata: func(metadata string) {
			m.updateView(func(v *models.ViewState) { v.QueryProvenance = metadata })
			if step.Output.ProvenanceResult != "" {
				target := podResource(origin, storageDirectory, step.Output.ProvenanceResult)
				if err := m.solid.Put(ctx, target, "application/json", metadata); err != nil {
					m.logger.Error().Err(err).Str("target", target).Msg("Could not store query metadata on the pod")
				}
			}
			m.publish()
		},
		OnError: func(err error) {
			m.failExecution(ctx, fmt.Sprintf("Query %s failed: %v", queryID, err))
		},
	})
}

// storageDirectoryOf resolves the pod storage directory from the
// solidConfiguration record.
func storageDirectoryOf(records []models.ConfigurationRecord) (string, error) {
	solidConfigs := models.FilterByType(records, models.RecordTypeSolidConfiguration)
	if len(solidConfigs) == 0 || solidConfigs[0].StorageDirectory == "" {
		return "", fmt.Errorf("no solidConfiguration record with a storageDirectory present")
	}
	return solidConfigs[0].StorageDirectory, nil
}

// podResource joins the pod origin, storage directory and resource name
// into one URL regardless of which parts carry slashes.
func podResource(origin, storageDirectory, name string) string {
	return strings.TrimRight(origin, "/") + "/" + strings.Trim(storageDirectory, "/") + "/" + strings.TrimLeft(name, "/")
}

// contentTypeFor picks a content type for a pod resource from its name.
func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".ttl"):
		return "text/turtle"
	default:
		return "text/plain"
	}
}
