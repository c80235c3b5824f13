// internal/api/client.go
package api

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

	"golang.org/x/sync/singleflight"

	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// Client handles communication with the Scanner Map backend. GET responses
// are cached per URL for a short TTL and concurrent identical requests are
// collapsed into one, so a burst of UI refreshes costs a single fetch.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *ttlCache
	group      singleflight.Group
}

// New creates a new API client. cacheTTL bounds how long GET responses are
// reused; zero disables caching.
func New(baseURL, apiKey string, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      newTTLCache(cacheTTL),
	}
}

// Healthcheck checks if the backend is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("creating healthcheck request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// CallsWindow fetches every call inside the active time window.
func (c *Client) CallsWindow(ctx context.Context, hours int) ([]core.Call, error) {
	var calls []core.Call
	path := fmt.Sprintf("/api/calls?hours=%d", hours)
	if err := c.getJSON(ctx, path, true, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// CallDetails fetches the current state of a single call. Never cached: the
// reconciler polls this endpoint precisely because the answer changes.
func (c *Client) CallDetails(ctx context.Context, id int64) (core.Call, error) {
	var call core.Call
	path := fmt.Sprintf("/api/call/%d/details", id)
	if err := c.getJSON(ctx, path, false, &call); err != nil {
		return core.Call{}, err
	}
	return call, nil
}

// TalkgroupCalls fetches one history page for a talkgroup, newest first.
func (c *Client) TalkgroupCalls(ctx context.Context, talkgroupID int64, limit, offset int) ([]core.Call, error) {
	var calls []core.Call
	path := fmt.Sprintf("/api/talkgroup/%d/calls?limit=%d&offset=%d", talkgroupID, limit, offset)
	if err := c.getJSON(ctx, path, true, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// TalkgroupCallsSince fetches calls newer than sinceID for a talkgroup.
func (c *Client) TalkgroupCallsSince(ctx context.Context, talkgroupID, sinceID int64) ([]core.Call, error) {
	var calls []core.Call
	path := fmt.Sprintf("/api/talkgroup/%d/calls?sinceId=%d", talkgroupID, sinceID)
	if err := c.getJSON(ctx, path, false, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// UpdateMarkerLocation pushes an operator's manual location correction.
func (c *Client) UpdateMarkerLocation(ctx context.Context, id int64, lat, lon float64) error {
	body := map[string]float64{"lat": lat, "lon": lon}
	path := fmt.Sprintf("/api/markers/%d/location", id)
	return c.sendJSON(ctx, http.MethodPut, path, body, nil)
}

// DeleteCall removes a single call and its marker from the backend.
func (c *Client) DeleteCall(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/markers/%d", id)
	return c.sendJSON(ctx, http.MethodDelete, path, nil, nil)
}

// PurgeCount performs the dry-run estimate for a purge.
func (c *Client) PurgeCount(ctx context.Context, criteria core.PurgeCriteria) (int, error) {
	raw, err := json.Marshal(criteria)
	if err != nil {
		return 0, fmt.Errorf("encoding criteria: %w", err)
	}
	var out struct {
		Count int `json:"count"`
	}
	path := "/api/calls/purge-count?criteria=" + url.QueryEscape(string(raw))
	if err := c.getJSON(ctx, path, false, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Purge executes a criteria-based bulk deletion on the backend.
func (c *Client) Purge(ctx context.Context, criteria core.PurgeCriteria) (int, error) {
	var out struct {
		PurgedCount int `json:"purgedCount"`
	}
	if err := c.sendJSON(ctx, http.MethodPost, "/api/calls/purge", criteria, &out); err != nil {
		return 0, err
	}
	return out.PurgedCount, nil
}

// CanUndoPurge asks the backend whether the last purge is still reversible.
func (c *Client) CanUndoPurge(ctx context.Context) (bool, error) {
	var out struct {
		CanUndo bool `json:"canUndo"`
	}
	if err := c.getJSON(ctx, "/api/calls/can-undo-purge", false, &out); err != nil {
		return false, err
	}
	return out.CanUndo, nil
}

// UndoLastPurge reverses the most recent purge on the backend.
func (c *Client) UndoLastPurge(ctx context.Context) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/calls/undo-last-purge", nil, nil)
}

// getJSON performs a GET with caching and in-flight de-duplication, then
// decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, path string, cacheable bool, out any) error {
	if cacheable {
		if body, ok := c.cache.get(path); ok {
			return json.Unmarshal(body, out)
		}
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s returned status %d", path, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if cacheable {
			c.cache.set(path, body)
		}
		return body, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), out)
}

// sendJSON performs a mutating request with an optional JSON body and
// decodes the response into out when out is non-nil.
func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}

	// The backend changed; cached windows and pages are stale now.
	c.cache.invalidate()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
