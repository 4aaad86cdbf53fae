package engine

import (
	"context"
	"fmt"

	"transfer/internal/api/models"
)

// Precondition is one item of the ordered list checked before an execution
// may start. Check reports whether the condition holds right now; Establish
// kicks off whatever flow gets it to hold (opening an authorization URL for
// the user, for example). Establish does not wait for the flow to finish;
// the retry loop re-checks on a later tick.
type Precondition struct {
	Name      string
	Check     func(ctx context.Context) (bool, error)
	Establish func(ctx context.Context) error
}

// preconditionsFor builds the precondition list for the referent of the step
// about to execute. The list depends only on the referent's type: mapping
// steps need a Solid session plus an authorized provider, query steps only
// the session. Anything else has no policy and fails the attempt.
func (m *Machine) preconditionsFor(referent models.ConfigurationRecord) ([]Precondition, error) {
	solidSession := Precondition{
		Name: "solid session",
		Check: func(ctx context.Context) (bool, error) {
			return m.solid.LoggedIn(), nil
		},
		Establish: func(ctx context.Context) error {
			loginURL, err := m.solid.AuthorizationURL()
			if err != nil {
				return err
			}
			m.updateView(func(v *models.ViewState) {
				v.SolidLoginURL = loginURL
			})
			return nil
		},
	}

	switch referent.Type {
	case models.RecordTypeMapping:
		provider := referent.Provider
		providerAuthorization := Precondition{
			Name: "provider authorization",
			Check: func(ctx context.Context) (bool, error) {
				return m.backend.Connected(ctx, provider), nil
			},
			Establish: func(ctx context.Context) error {
				connectURL, err := m.backend.ConnectionURL(ctx, provider)
				if err != nil {
					return err
				}
				m.updateView(func(v *models.ViewState) {
					v.ProviderConnectURL = connectURL
				})
				return nil
			},
		}
		return []Precondition{solidSession, providerAuthorization}, nil

	case models.RecordTypeQuery:
		return []Precondition{solidSession}, nil

	default:
		return nil, fmt.Errorf("no precondition policy for record type %q", referent.Type)
	}
}
