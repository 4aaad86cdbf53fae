package models

// ViewState carries the reactive values the UI renders. The engine owns the
// authoritative copy and pushes a fresh snapshot over the realtime channel on
// every change; GET /api/state returns the same snapshot.
type ViewState struct {
	SessionID          string          `json:"sessionId"`
	SelectedPipelineID string          `json:"selectedPipelineId,omitempty"`
	ExecutionStatus    ExecutionStatus `json:"executionStatus"`

	MappingContent  string `json:"mappingContent,omitempty"`
	GeneratedOutput string `json:"generatedOutput,omitempty"`
	Provenance      string `json:"provenance,omitempty"`

	Query           string `json:"query,omitempty"`
	QueryResult     string `json:"queryResult,omitempty"`
	QueryProvenance string `json:"queryProvenance,omitempty"`

	SolidData string `json:"solidData,omitempty"`

	// SolidLoginURL and ProviderConnectURL surface pending authorization
	// flows: the UI opens them in a popup, the retry loop picks up the
	// established session/connection on a later tick.
	SolidLoginURL      string `json:"solidLoginUrl,omitempty"`
	ProviderConnectURL string `json:"providerConnectUrl,omitempty"`

	Alert *Alert `json:"alert,omitempty"`
}
