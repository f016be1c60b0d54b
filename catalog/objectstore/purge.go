// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Purger invalidates CDN-cached URLs after deletes. Purging is
// best-effort; failures are logged, never fatal.
type Purger interface {
	Purge(ctx context.Context, urls []string) error
}

// NoopPurger is used when no CDN is configured.
type NoopPurger struct{}

// Purge implements Purger.
func (NoopPurger) Purge(ctx context.Context, urls []string) error { return nil }

// CloudflarePurger purges URLs through the zone purge_cache endpoint.
type CloudflarePurger struct {
	httpClient *http.Client
	baseURL    string
	zoneID     string
	apiToken   string
}

// NewCloudflarePurger creates a purger for the given zone.
func NewCloudflarePurger(zoneID, apiToken string) *CloudflarePurger {
	return &CloudflarePurger{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "https://api.cloudflare.com/client/v4",
		zoneID:     zoneID,
		apiToken:   apiToken,
	}
}

// Purge implements Purger.
func (purger *CloudflarePurger) Purge(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{"files": urls})
	if err != nil {
		return Error.Wrap(err)
	}

	endpoint := fmt.Sprintf("%s/zones/%s/purge_cache", purger.baseURL, purger.zoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Error.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+purger.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := purger.httpClient.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Error.New("purge failed with status %d", resp.StatusCode)
	}
	return nil
}
