package response

import "transfer/internal/api/models"

// Session carries a freshly minted session token.
type Session struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// Pipelines lists the selectable pipeline options.
type Pipelines struct {
	Pipelines []models.PipelineOption `json:"pipelines"`
}

// SolidData carries the content of a fetched pod resource.
type SolidData struct {
	Data string `json:"data"`
}
