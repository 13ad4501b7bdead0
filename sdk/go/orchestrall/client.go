// Package orchestrall is the Go client for the plugin runtime REST API.
package orchestrall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom
// http.Client. Kept short so a stuck daemon fails calls quickly.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the runtime API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient instantiates a client for the runtime API. When httpClient is
// nil a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CatalogEntry is one discovered plugin as reported by the daemon.
type CatalogEntry struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Manifest struct {
		Version      string   `json:"version"`
		Description  string   `json:"description"`
		Capabilities []string `json:"capabilities"`
	} `json:"manifest"`
}

// Activation is one tenant's installation of a plugin.
type Activation struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	PluginID  string         `json:"plugin_id"`
	Config    map[string]any `json:"config,omitempty"`
	Status    string         `json:"status"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// BundleEntry is one plugin inside a bundle definition.
type BundleEntry struct {
	ID     string         `json:"id"`
	Config map[string]any `json:"config,omitempty"`
}

// Bundle is a named set of plugins rolled out as one unit.
type Bundle struct {
	Name    string        `json:"name"`
	Version string        `json:"version"`
	Entries []BundleEntry `json:"plugins"`
}

// BundleStep is one planned reconciliation action.
type BundleStep struct {
	PluginID string         `json:"pluginId"`
	Action   string         `json:"action"`
	Config   map[string]any `json:"config,omitempty"`
}

// BundleResult is the outcome of applying one step.
type BundleResult struct {
	PluginID string `json:"pluginId"`
	Action   string `json:"action"`
	Err      string `json:"error,omitempty"`
}

// BundleOutcome is the response of a bundle application.
type BundleOutcome struct {
	Plan struct {
		Bundle string       `json:"bundle"`
		Tenant string       `json:"tenant"`
		Steps  []BundleStep `json:"steps"`
	} `json:"plan"`
	Results []BundleResult `json:"results,omitempty"`
}

// HealthEntry is the latest probe result for one live instance.
type HealthEntry struct {
	TenantID string `json:"tenantId"`
	PluginID string `json:"pluginId"`
	Result   struct {
		State     string         `json:"state"`
		Detail    map[string]any `json:"detail,omitempty"`
		Error     string         `json:"error,omitempty"`
		CheckedAt time.Time      `json:"checked_at"`
	} `json:"result"`
}

// APIError carries the daemon's structured error response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("orchestrall api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("orchestrall api error (%d): %s", e.StatusCode, e.Message)
}

// ListPlugins returns the daemon's plugin catalog.
func (c *Client) ListPlugins(ctx context.Context) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/plugins", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListActivations returns every activation for a tenant.
func (c *Client) ListActivations(ctx context.Context, tenantID string) ([]Activation, error) {
	var acts []Activation
	endpoint := fmt.Sprintf("/api/v1/tenants/%s/activations", url.PathEscape(tenantID))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &acts); err != nil {
		return nil, err
	}
	return acts, nil
}

// Install creates an activation for the tenant.
func (c *Client) Install(ctx context.Context, tenantID, pluginID string, config map[string]any) (*Activation, error) {
	var act Activation
	body := map[string]any{"config": config}
	if err := c.do(ctx, http.MethodPost, c.pluginPath(tenantID, pluginID)+"/install", body, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

// Enable activates the plugin instance for the tenant.
func (c *Client) Enable(ctx context.Context, tenantID, pluginID string) (*Activation, error) {
	var act Activation
	if err := c.do(ctx, http.MethodPost, c.pluginPath(tenantID, pluginID)+"/enable", nil, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

// Disable stops the plugin instance for the tenant.
func (c *Client) Disable(ctx context.Context, tenantID, pluginID string) (*Activation, error) {
	var act Activation
	if err := c.do(ctx, http.MethodPost, c.pluginPath(tenantID, pluginID)+"/disable", nil, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

// Uninstall removes the activation entirely.
func (c *Client) Uninstall(ctx context.Context, tenantID, pluginID string) error {
	return c.do(ctx, http.MethodDelete, c.pluginPath(tenantID, pluginID), nil, nil)
}

// UpdateConfig merges partial configuration into the activation. With
// restart set an enabled instance is cycled to pick up the change.
func (c *Client) UpdateConfig(ctx context.Context, tenantID, pluginID string, config map[string]any, restart bool) (*Activation, error) {
	var act Activation
	body := map[string]any{"config": config, "restart": restart}
	if err := c.do(ctx, http.MethodPatch, c.pluginPath(tenantID, pluginID)+"/config", body, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

// BundleOptions tunes a bundle application.
type BundleOptions struct {
	Prune  bool
	DryRun bool
}

// ApplyBundle reconciles the tenant against a bundle definition.
func (c *Client) ApplyBundle(ctx context.Context, tenantID string, b Bundle, opts BundleOptions) (*BundleOutcome, error) {
	endpoint := fmt.Sprintf("/api/v1/tenants/%s/bundles", url.PathEscape(tenantID))
	query := url.Values{}
	if opts.Prune {
		query.Set("prune", "true")
	}
	if opts.DryRun {
		query.Set("dryRun", "true")
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var outcome BundleOutcome
	if err := c.do(ctx, http.MethodPost, endpoint, b, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// Health returns the latest health sweep snapshot.
func (c *Client) Health(ctx context.Context) ([]HealthEntry, error) {
	var entries []HealthEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) pluginPath(tenantID, pluginID string) string {
	// Plugin IDs are category/name, which maps onto two path segments.
	return fmt.Sprintf("/api/v1/tenants/%s/plugins/%s", url.PathEscape(tenantID), pluginID)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	target, err := c.baseURL.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(resp.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, apiErr)
			if apiErr.Message == "" {
				apiErr.Message = string(raw)
			}
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
