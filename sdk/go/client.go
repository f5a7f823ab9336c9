package caseworksdk

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
)

// Client is a minimal casework HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Case is the API case model. Fields beyond these are not decoded.
type Case struct {
	CaseID      string `json:"CaseID"`
	CaseType    string `json:"CaseType"`
	Status      string `json:"Status"`
	SubmittedBy string `json:"SubmittedBy,omitempty"`
	RNNumber    string `json:"RNNumber,omitempty"`
}

type Organisation struct {
	RNNumber string `json:"RNNumber"`
	Name     string `json:"Name"`
	Acronym  string `json:"Acronym,omitempty"`
}

type SentMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	SentAt  string `json:"sentAt,omitempty"`
}

// ReplyTarget is where a message reply link resolves to.
type ReplyTarget struct {
	Kind      string `json:"kind"`
	RNNumber  string `json:"rn_number"`
	CaseID    string `json:"case_id,omitempty"`
	MessageID string `json:"message_id"`
	Source    string `json:"source,omitempty"`
	Path      string `json:"path"`
}

type BackfillReport struct {
	Updated    int      `json:"updated"`
	Unresolved int      `json:"unresolved"`
	Names      []string `json:"unresolved_names"`
	UpdatedIDs []string `json:"updated_case_ids,omitempty"`
}

type SeedResult struct {
	Seed     int64 `json:"seed"`
	Cases    int   `json:"cases"`
	Tasks    int   `json:"tasks"`
	Answered int   `json:"answered"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ErrorBody is the API error envelope content.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	Err        ErrorBody
}

func (e *APIError) Error() string {
	if e.Err.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Err.Code, e.Err.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// DevLogin mints a development token and stores it on the client. An empty
// sessionID asks the server for a new session.
func (c *Client) DevLogin(ctx context.Context, actorID, sessionID string) (string, error) {
	body := map[string]any{"actor_id": actorID}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	var resp struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.SessionID, nil
}

func (c *Client) ListOrganisations(ctx context.Context) ([]Organisation, error) {
	var resp struct {
		Items []Organisation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "organisations", nil, &resp)
	return resp.Items, err
}

// ListCases returns cases in store order, optionally filtered by RN.
func (c *Client) ListCases(ctx context.Context, rnNumber string) ([]Case, error) {
	endpoint := "cases"
	if rnNumber != "" {
		endpoint += "?rn_number=" + url.QueryEscape(rnNumber)
	}
	var resp struct {
		Items []Case `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetCase(ctx context.Context, caseID string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, "cases/"+url.PathEscape(caseID), nil, &resp)
	return resp, err
}

func (c *Client) Backfill(ctx context.Context) (BackfillReport, error) {
	var resp BackfillReport
	err := c.do(ctx, http.MethodPost, "backfill", nil, &resp)
	return resp, err
}

// Seed regenerates task data; a nil seed uses the server's configured seed.
func (c *Client) Seed(ctx context.Context, seed *int64) (SeedResult, error) {
	body := map[string]any{}
	if seed != nil {
		body["seed"] = *seed
	}
	var resp SeedResult
	err := c.do(ctx, http.MethodPost, "seed", body, &resp)
	return resp, err
}

func (c *Client) ReassignDemoCases(ctx context.Context) ([]string, error) {
	var resp struct {
		CaseIDs []string `json:"case_ids"`
	}
	err := c.do(ctx, http.MethodPost, "demo/reassign", nil, &resp)
	return resp.CaseIDs, err
}

// SentMessages returns the session's sent messages for a case.
func (c *Client) SentMessages(ctx context.Context, caseID string) ([]SentMessage, error) {
	var resp struct {
		Items []SentMessage `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.sentPath(caseID), nil, &resp)
	return resp.Items, err
}

func (c *Client) PutSentMessages(ctx context.Context, caseID string, msgs []SentMessage) error {
	if msgs == nil {
		msgs = []SentMessage{}
	}
	return c.do(ctx, http.MethodPut, c.sentPath(caseID), map[string]any{"items": msgs}, nil)
}

func (c *Client) DeleteSentMessages(ctx context.Context, caseID string) error {
	return c.do(ctx, http.MethodDelete, c.sentPath(caseID), nil, nil)
}

// ResolveReply asks where the reply link for messageID under rn lands.
func (c *Client) ResolveReply(ctx context.Context, rn, messageID string) (ReplyTarget, error) {
	var resp ReplyTarget
	endpoint := fmt.Sprintf("organisations/%s/messages/%s/reply", url.PathEscape(rn), url.PathEscape(messageID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error ErrorBody `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Err = envelope.Error
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sentPath(caseID string) string {
	return fmt.Sprintf("cases/%s/sent-messages", url.PathEscape(caseID))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
