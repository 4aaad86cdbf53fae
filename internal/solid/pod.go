package solid

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Pod reads and writes resources on a Solid pod through an authenticated
// HTTP client.
type Pod struct {
	client *http.Client
	logger zerolog.Logger
}

func NewPod(client *http.Client, logger zerolog.Logger) *Pod {
	return &Pod{client: client, logger: logger}
}

// Append adds RDF data to the resource at url with a SPARQL update. The
// resource is created when it does not exist yet.
func (p *Pod) Append(ctx context.Context, url, data string) error {
	body := "INSERT DATA {" + data + "}"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/sparql-update")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("appending to %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Put replaces the resource at url with the given content.
func (p *Pod) Put(ctx context.Context, url, contentType, content string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("writing %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Read fetches the resource at url as text. A missing resource yields an
// empty string, not an error.
func (p *Pod) Read(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/turtle, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reading %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Clear deletes the resource at url. Deleting a resource that is already
// gone is not an error.
func (p *Pod) Clear(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("clearing %s: status %d", url, resp.StatusCode)
	}
	return nil
}
