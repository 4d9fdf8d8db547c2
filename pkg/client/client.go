package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/tether/pkg/api"
	"github.com/cuemby/tether/pkg/sessions"
	"github.com/cuemby/tether/pkg/types"
)

// Error is a non-2xx answer from the API
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("tether api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("tether api: %s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client wraps the tether HTTP API for easy CLI usage
type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	timeout     time.Duration
	passTimeout time.Duration
}

// NewClient creates a client for the API at addr (host:port or URL)
func NewClient(addr, token string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:     base,
		token:       token,
		http:        &http.Client{},
		timeout:     10 * time.Second,
		passTimeout: 6 * time.Minute,
	}
}

// ProvisionSession creates a session for a tenant channel
func (c *Client) ProvisionSession(req sessions.ProvisionRequest) (*types.Session, error) {
	var session types.Session
	if err := c.do(http.MethodPost, "/v1/sessions", req, &session, c.timeout); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession gets a session by ID
func (c *Client) GetSession(id string) (*types.Session, error) {
	var session types.Session
	if err := c.do(http.MethodGet, sessionPath(id, ""), nil, &session, c.timeout); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListEpisodes lists the outages of a session
func (c *Client) ListEpisodes(id string) ([]*types.OutageEpisode, error) {
	var episodes []*types.OutageEpisode
	if err := c.do(http.MethodGet, sessionPath(id, "episodes"), nil, &episodes, c.timeout); err != nil {
		return nil, err
	}
	return episodes, nil
}

// ConnectSession asks for a session to be connected
func (c *Client) ConnectSession(id string) (*sessions.ConnectResult, error) {
	var result sessions.ConnectResult
	if err := c.do(http.MethodPost, sessionPath(id, "connect"), nil, &result, c.timeout); err != nil {
		return nil, err
	}
	return &result, nil
}

// DisconnectSession turns a session off
func (c *Client) DisconnectSession(id string) (*types.Session, error) {
	var session types.Session
	if err := c.do(http.MethodPost, sessionPath(id, "disconnect"), nil, &session, c.timeout); err != nil {
		return nil, err
	}
	return &session, nil
}

// CompleteReauth records that a session was paired again
func (c *Client) CompleteReauth(id string) (*types.Session, error) {
	var session types.Session
	if err := c.do(http.MethodPost, sessionPath(id, "reauth-complete"), nil, &session, c.timeout); err != nil {
		return nil, err
	}
	return &session, nil
}

// ReportState pushes a gateway state for a session
func (c *Client) ReportState(id string, state sessions.ReportedState) (*sessions.ReportResult, error) {
	var result sessions.ReportResult
	if err := c.do(http.MethodPost, sessionPath(id, "state"), api.StateReport{State: state}, &result, c.timeout); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateTenant registers a tenant
func (c *Client) CreateTenant(tenant *types.Tenant) (*types.Tenant, error) {
	var created types.Tenant
	if err := c.do(http.MethodPost, "/v1/tenants", tenant, &created, c.timeout); err != nil {
		return nil, err
	}
	return &created, nil
}

// AddProfile adds a profile to a tenant
func (c *Client) AddProfile(tenantID string, req api.ProfileRequest) (*types.Profile, error) {
	var profile types.Profile
	if err := c.do(http.MethodPost, "/v1/tenants/"+url.PathEscape(tenantID)+"/profiles", req, &profile, c.timeout); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListAudit lists the alerts sent to a tenant
func (c *Client) ListAudit(tenantID string) ([]*types.AuditEntry, error) {
	var entries []*types.AuditEntry
	if err := c.do(http.MethodGet, "/v1/tenants/"+url.PathEscape(tenantID)+"/audit", nil, &entries, c.timeout); err != nil {
		return nil, err
	}
	return entries, nil
}

// RunReconcile triggers one reconciliation pass on the server
func (c *Client) RunReconcile() (*types.ReconcileSummary, error) {
	var summary types.ReconcileSummary
	if err := c.do(http.MethodPost, "/v1/passes/reconcile", nil, &summary, c.passTimeout); err != nil {
		return nil, err
	}
	return &summary, nil
}

// RunAlerts triggers one alert pass on the server
func (c *Client) RunAlerts() (*types.AlertSummary, error) {
	var summary types.AlertSummary
	if err := c.do(http.MethodPost, "/v1/passes/alerts", nil, &summary, c.passTimeout); err != nil {
		return nil, err
	}
	return &summary, nil
}

func sessionPath(id, action string) string {
	p := "/v1/sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(method, path string, in, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var eb api.ErrorBody
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&eb) == nil {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
