// Package query runs federated queries over pod resources through an
// external query engine service.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Hooks receive the independent completions of a query run. OnResult fires
// when the serialized result is available, OnMetadata only when the engine
// produced provenance metadata. OnError fires instead of (not in addition to)
// the other two.
type Hooks struct {
	OnResult   func(result string)
	OnMetadata func(metadata string)
	OnError    func(err error)
}

// Engine executes a query over the given source documents.
type Engine interface {
	Execute(ctx context.Context, query string, sources []string, hooks Hooks)
}

type executeRequest struct {
	Query   string   `json:"query"`
	Sources []string `json:"sources"`
}

type executeResponse struct {
	Result   string          `json:"result"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// HTTPEngine talks to a query engine service over HTTP. The service runs the
// query against the listed sources and returns the serialized result plus
// optional provenance metadata.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewHTTPEngine(baseURL string, logger zerolog.Logger) *HTTPEngine {
	return &HTTPEngine{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
}

func (e *HTTPEngine) Execute(ctx context.Context, query string, sources []string, hooks Hooks) {
	fail := func(err error) {
		e.logger.Error().Err(err).Msg("Query execution failed")
		if hooks.OnError != nil {
			hooks.OnError(err)
		}
	}

	payload, err := json.Marshal(executeRequest{Query: query, Sources: sources})
	if err != nil {
		fail(err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		fail(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		fail(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(fmt.Errorf("query request unsuccessful, status %d", resp.StatusCode))
		return
	}

	var parsed executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		fail(err)
		return
	}

	if len(parsed.Metadata) > 0 && hooks.OnMetadata != nil {
		hooks.OnMetadata(string(parsed.Metadata))
	}
	if hooks.OnResult != nil {
		hooks.OnResult(parsed.Result)
	}
}
