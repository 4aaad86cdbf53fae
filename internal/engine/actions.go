package engine

import (
	"context"
	"fmt"

	"transfer/internal/api/models"
)

// The pod file actions and logout run on the caller's goroutine. They only
// touch the view snapshot and the Solid gateway, never the machine's
// transition state, so they do not go through the event queue.

// SolidFetch reads the selected step's output resource from the pod and
// exposes it in the view.
func (m *Machine) SolidFetch(ctx context.Context) (string, error) {
	target, err := m.outputResource(ctx)
	if err != nil {
		return "", err
	}

	data, err := m.solid.Read(ctx, target)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", target, err)
	}

	m.updateView(func(v *models.ViewState) { v.SolidData = data })
	m.publish()
	return data, nil
}

// SolidClear deletes the selected step's output resource from the pod.
func (m *Machine) SolidClear(ctx context.Context) error {
	target, err := m.outputResource(ctx)
	if err != nil {
		return err
	}

	if err := m.solid.Clear(ctx, target); err != nil {
		return fmt.Errorf("clearing %s: %w", target, err)
	}

	m.updateView(func(v *models.ViewState) { v.SolidData = "" })
	m.publish()
	return nil
}

// Logout ends the provider backend session and drops the Solid session.
func (m *Machine) Logout(ctx context.Context) error {
	err := m.backend.Logout(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Provider backend logout failed")
	}
	m.solid.Logout()

	m.updateView(func(v *models.ViewState) {
		v.SolidLoginURL = ""
		v.ProviderConnectURL = ""
		v.SolidData = ""
	})
	m.publish()
	return err
}

// outputResource resolves the pod URL of the selected step's result.
func (m *Machine) outputResource(ctx context.Context) (string, error) {
	records, err := m.configs.Records(ctx)
	if err != nil {
		return "", err
	}

	pipelineID, found, err := m.slots.SelectedPipelineID.Get(ctx)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("no pipeline selected")
	}

	step, _, err := m.configs.StepAndReferent(records, pipelineID, 0)
	if err != nil {
		return "", err
	}

	storageDirectory, err := storageDirectoryOf(records)
	if err != nil {
		return "", err
	}

	origin, err := m.solid.PodOrigin()
	if err != nil {
		return "", err
	}
	return podResource(origin, storageDirectory, step.Output.Result), nil
}
