// Package connector talks to the data-provider backend: mapping execution,
// provider connection status, provider authorization URLs and logout.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MappingResult is the body of a successful /rmlmapper response.
type MappingResult struct {
	RDF  string `json:"rdf"`
	Prov string `json:"prov"`
}

type mappingRequest struct {
	Provider string `json:"provider"`
	File     string `json:"file"`
}

type mappingResponse struct {
	Success bool          `json:"success"`
	Body    MappingResult `json:"body"`
}

type connectedResponse struct {
	Connected bool `json:"connected"`
}

type connectURLResponse struct {
	URL string `json:"url"`
}

// Client is the HTTP client for the provider backend. All paths are resolved
// against the configured base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
}

// ExecuteMapping asks the backend to run the mapping identified by provider
// and file. A transport failure or non-success response is an error; an empty
// rdf or prov in the body is not (partial results are the caller's policy).
func (c *Client) ExecuteMapping(ctx context.Context, provider, file string) (MappingResult, error) {
	payload, err := json.Marshal(mappingRequest{Provider: provider, File: file})
	if err != nil {
		return MappingResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rmlmapper", bytes.NewReader(payload))
	if err != nil {
		return MappingResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var parsed mappingResponse
	result := c.doParse(req, &parsed)
	if !result.Success {
		return MappingResult{}, fmt.Errorf("mapping execution failed: %s", result.Reason)
	}
	if !parsed.Success {
		return MappingResult{}, fmt.Errorf("mapping execution unsuccessful for provider %q, file %q", provider, file)
	}
	return parsed.Body, nil
}

// Connected checks whether the backend holds a valid authorization for the
// given provider. Failures degrade to "not connected" with a log entry, so the
// precondition loop treats them as not-yet-satisfied.
func (c *Client) Connected(ctx context.Context, provider string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/status/%s/connected", c.baseURL, url.PathEscape(provider)), nil)
	if err != nil {
		c.logger.Error().Err(err).Str("provider", provider).Msg("Error building connection status request")
		return false
	}

	var parsed connectedResponse
	result := c.doParse(req, &parsed)
	if !result.Success {
		c.logger.Error().Str("provider", provider).Str("reason", result.Reason).Msg("Error while processing connection status response")
		return false
	}
	return parsed.Connected
}

// ConnectionURL fetches the authorization URL the user must visit to connect
// the given provider.
func (c *Client) ConnectionURL(ctx context.Context, provider string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/configuration/%s/connect", c.baseURL, url.PathEscape(provider)), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var parsed connectURLResponse
	result := c.doParse(req, &parsed)
	if !result.Success {
		return "", fmt.Errorf("error while getting the connection url for provider %q: %s", provider, result.Reason)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("connection url response for provider %q contains no url", provider)
	}
	return parsed.URL, nil
}

// Logout ends the backend session with all providers.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout request unsuccessful, status %d", resp.StatusCode)
	}
	return nil
}

// FetchText retrieves a server-relative file (mapping or query text) from the
// backend, e.g. /rml/flickr/m1.ttl.
func (c *Client) FetchText(ctx context.Context, path string) (string, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// parseResult is the outcome of a lenient JSON parse: Success with the target
// populated, or a Reason describing why the body was unusable.
type parseResult struct {
	Success bool
	Reason  string
}

// doParse runs the request and decodes the JSON body into target. HTTP
// transport errors, non-200 statuses and undecodable bodies all come back as
// an unsuccessful parseResult rather than a panic or a bare error, mirroring
// how the UI treated untrusted backend responses.
func (c *Client) doParse(req *http.Request, target any) parseResult {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return parseResult{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseResult{Reason: fmt.Sprintf("request unsuccessful, status (%d): %s", resp.StatusCode, resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return parseResult{Reason: err.Error()}
	}
	return parseResult{Success: true}
}
