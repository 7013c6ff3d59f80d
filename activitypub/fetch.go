package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/agora/util"
)

// maxDocumentSize caps the size of fetched remote documents
const maxDocumentSize = 1 << 20

// HTTPFetcher fetches remote objects over HTTP
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, iri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams", application/jrd+json`)
	req.Header.Set("User-Agent", util.UserAgent())

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		remoteFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	remoteFetchDuration.Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		remoteFetchesTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s returned %d", ErrNotFound, iri, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		remoteFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch of %s failed with status: %d", iri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		remoteFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	remoteFetchesTotal.WithLabelValues("ok").Inc()
	return body, nil
}

// documentHeader is the part of a fetched document used to pick a converter
type documentHeader struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func readHeader(body []byte) (documentHeader, error) {
	var h documentHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if h.ID == "" || h.Type == "" {
		return h, fmt.Errorf("%w: document without id or type", ErrMalformedPayload)
	}
	return h, nil
}
