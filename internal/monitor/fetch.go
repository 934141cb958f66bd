package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"loggram/internal/logstore"
)

// Fetcher retrieves log entries newer than since from a project's
// ingestion API. Implementations return entries oldest-first so the
// caller can dispatch them in chronological order.
type Fetcher interface {
	Fetch(ctx context.Context, apiURL string, since time.Time) ([]logstore.Entry, error)
}

// HTTPFetcher talks to the logapi /logs endpoint.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

type logsResponse struct {
	Success bool             `json:"success"`
	Logs    []logstore.Entry `json:"logs"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, apiURL string, since time.Time) ([]logstore.Entry, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	q.Set("limit", fmt.Sprint(logstore.MaxQueryLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/logs?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("monitor: fetch: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("monitor: fetch: unexpected status %d", resp.StatusCode)
	}

	var body logsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("monitor: fetch: decode: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("monitor: fetch: api reported failure")
	}

	// The API returns newest first; flip to chronological order.
	entries := body.Logs
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
