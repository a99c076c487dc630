// Package toggl is a thin client for the Toggl Track v9 API. Every
// operation is a single synchronous request with no retry; callers impose
// timeouts through the context.
package toggl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.track.toggl.com/api/v9"

// basicAuthPassword is the fixed literal Toggl expects alongside an API key.
const basicAuthPassword = "api_token"

// createdWith tags every entry this bot creates.
const createdWith = "Personal Assistant Bot"

var (
	// ErrUnconfigured is returned when no API key is present.
	ErrUnconfigured = errors.New("toggl: API key not configured")
	// ErrNoWorkspace is returned when the account has no default workspace.
	// Distinct from a remote error: the call itself succeeded.
	ErrNoWorkspace = errors.New("toggl: no default workspace")
	// ErrUnauthorized matches any 4xx APIError via errors.Is.
	ErrUnauthorized = errors.New("toggl: unauthorized")
)

// APIError is a non-2xx response from the Toggl API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("toggl: api error (status %d): %s", e.StatusCode, e.Body)
}

// Is reports 4xx responses as ErrUnauthorized so the handler layer can
// suggest checking the API key.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode >= 400 && e.StatusCode < 500
}

// Client is a Toggl client (the customer kind, not an HTTP client).
type Client struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Project is a Toggl project.
type Project struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ClientID *int64 `json:"client_id,omitempty"`
}

// TimeEntry is a recorded or running span of tracked work. Duration is
// positive elapsed seconds for a finished entry; Toggl's negative-duration
// convention for running entries is never sent by this client.
type TimeEntry struct {
	ID          int64      `json:"id"`
	Description string     `json:"description"`
	ProjectID   *int64     `json:"project_id,omitempty"`
	WorkspaceID int64      `json:"workspace_id"`
	Start       *time.Time `json:"start,omitempty"`
	Stop        *time.Time `json:"stop,omitempty"`
	Duration    int64      `json:"duration"`
	Billable    bool       `json:"billable"`
}

// HTTPDoer is the HTTP surface the API client needs. Tests inject doubles.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// API performs authenticated calls against the Toggl Track API.
type API struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	now        func() time.Time
}

// Option customizes an API.
type Option func(*API)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(a *API) { a.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(d HTTPDoer) Option {
	return func(a *API) { a.httpClient = d }
}

// WithNow overrides the clock (used by tests).
func WithNow(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates an API client. An empty apiKey yields a client whose calls
// fail with ErrUnconfigured.
func New(apiKey string, opts ...Option) *API {
	a := &API{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Workspace resolves the account's default workspace id from /me.
func (a *API) Workspace(ctx context.Context) (int64, error) {
	body, err := a.do(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return 0, err
	}

	var me struct {
		DefaultWorkspaceID *int64 `json:"default_workspace_id"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return 0, fmt.Errorf("parse me: %w", err)
	}
	if me.DefaultWorkspaceID == nil {
		return 0, ErrNoWorkspace
	}
	return *me.DefaultWorkspaceID, nil
}

// Clients lists all clients in the workspace.
func (a *API) Clients(ctx context.Context, workspaceID int64) ([]Client, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/workspaces/%d/clients", workspaceID), nil)
	if err != nil {
		return nil, err
	}

	var clients []Client
	if err := json.Unmarshal(body, &clients); err != nil {
		return nil, fmt.Errorf("parse clients: %w", err)
	}
	return clients, nil
}

// Projects lists projects in the workspace, optionally filtered by client.
// The v9 API has no server-side client filter, so the full list is fetched
// and filtered here, preserving the original order.
func (a *API) Projects(ctx context.Context, workspaceID int64, clientID *int64) ([]Project, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/workspaces/%d/projects", workspaceID), nil)
	if err != nil {
		return nil, err
	}

	var projects []Project
	if err := json.Unmarshal(body, &projects); err != nil {
		return nil, fmt.Errorf("parse projects: %w", err)
	}
	if clientID == nil {
		return projects, nil
	}

	filtered := make([]Project, 0, len(projects))
	for _, p := range projects {
		if p.ClientID != nil && *p.ClientID == *clientID {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

type entryPayload struct {
	Billable    bool   `json:"billable"`
	Description string `json:"description"`
	ProjectID   int64  `json:"project_id"`
	WorkspaceID int64  `json:"workspace_id"`
	CreatedWith string `json:"created_with"`
	Start       string `json:"start,omitempty"`
	Stop        string `json:"stop,omitempty"`
	Duration    *int64 `json:"duration,omitempty"`
}

// StartEntry starts a running time entry on the given project.
func (a *API) StartEntry(ctx context.Context, description string, projectID int64) (*TimeEntry, error) {
	workspaceID, err := a.Workspace(ctx)
	if err != nil {
		return nil, err
	}

	payload := entryPayload{
		Billable:    false,
		Description: description,
		ProjectID:   projectID,
		WorkspaceID: workspaceID,
		CreatedWith: createdWith,
	}
	body, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/workspaces/%d/time_entries", workspaceID), payload)
	if err != nil {
		return nil, err
	}

	return parseEntry(body)
}

// StopActiveEntry stops the currently running entry. Returns (nil, nil)
// when nothing is running; callers branch on nil rather than on an error.
func (a *API) StopActiveEntry(ctx context.Context) (*TimeEntry, error) {
	body, err := a.do(ctx, http.MethodGet, "/me/time_entries/current", nil)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	current, err := parseEntry(body)
	if err != nil {
		return nil, err
	}

	stopped, err := a.do(ctx, http.MethodPut, fmt.Sprintf("/time_entries/%d/stop", current.ID), struct{}{})
	if err != nil {
		return nil, err
	}
	return parseEntry(stopped)
}

// CreatePastEntry records a finished entry of durationSeconds. With a
// startTime the entry spans [startTime, startTime+duration]; without one it
// ends now and started duration ago.
func (a *API) CreatePastEntry(ctx context.Context, description string, durationSeconds int64, projectID int64, startTime *time.Time) (*TimeEntry, error) {
	workspaceID, err := a.Workspace(ctx)
	if err != nil {
		return nil, err
	}

	var start, stop time.Time
	if startTime != nil {
		start = *startTime
		stop = start.Add(time.Duration(durationSeconds) * time.Second)
	} else {
		stop = a.now().UTC()
		start = stop.Add(-time.Duration(durationSeconds) * time.Second)
	}

	payload := entryPayload{
		Billable:    false,
		Description: description,
		ProjectID:   projectID,
		WorkspaceID: workspaceID,
		CreatedWith: createdWith,
		Start:       start.Format(time.RFC3339),
		Stop:        stop.Format(time.RFC3339),
		Duration:    &durationSeconds,
	}
	body, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/workspaces/%d/time_entries", workspaceID), payload)
	if err != nil {
		return nil, err
	}

	return parseEntry(body)
}

func parseEntry(body []byte) (*TimeEntry, error) {
	var entry TimeEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("parse time entry: %w", err)
	}
	return &entry, nil
}

// do performs one authenticated request and returns the raw body.
func (a *API) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if a.apiKey == "" {
		return nil, ErrUnconfigured
	}

	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(a.apiKey, basicAuthPassword)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
