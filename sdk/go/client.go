package statusflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Statusflow HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Status struct {
	ID                  int64    `json:"id"`
	ObjectType          string   `json:"object_type"`
	Name                string   `json:"name"`
	Category            string   `json:"category"`
	Color               string   `json:"color"`
	Remark              string   `json:"remark,omitempty"`
	TransferTo          []int64  `json:"transfer_to"`
	CheckFieldList      []int64  `json:"check_field_list"`
	PermissionOwnerList []string `json:"permission_owner_list"`
	SetOwnerList        []string `json:"set_owner_list"`
}

// Object is a tracked object; Fields is keyed by field id.
type Object struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"project_id"`
	ObjectType string            `json:"object_type"`
	Title      string            `json:"title"`
	StatusID   int64             `json:"status_id"`
	OwnerID    string            `json:"owner_id,omitempty"`
	CreatorID  string            `json:"creator_id"`
	Fields     map[string]string `json:"fields"`
	Version    int64             `json:"version"`
}

type TransitionCheck struct {
	Allowed  bool    `json:"allowed"`
	Code     string  `json:"code,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	FieldIDs []int64 `json:"field_ids,omitempty"`
}

type Report struct {
	HTML  string `json:"html"`
	Stats struct {
		Inlined int `json:"inlined"`
		Scaled  int `json:"scaled"`
		Dropped int `json:"dropped"`
	} `json:"stats"`
	Location string `json:"location,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body has one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code, e.g.
// "missing_required_field" or "illegal_transition".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Statuses lists the statuses of an object type.
func (c *Client) Statuses(ctx context.Context, objectType string) ([]Status, error) {
	q := url.Values{}
	if objectType != "" {
		q.Set("object_type", objectType)
	}
	var resp struct {
		Items []Status `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("statuses")+"?"+q.Encode(), nil, &resp)
	return resp.Items, err
}

// CreateObject creates an object in the first START status of its type.
func (c *Client) CreateObject(ctx context.Context, objectType, title string, fields map[int64]string) (Object, error) {
	body := map[string]any{
		"object_type": objectType,
		"title":       title,
		"fields":      fieldMap(fields),
	}
	var resp Object
	err := c.do(ctx, http.MethodPost, c.projectPath("objects"), body, &resp)
	return resp, err
}

func (c *Client) GetObject(ctx context.Context, id string) (Object, error) {
	var resp Object
	err := c.do(ctx, http.MethodGet, c.projectPath("objects/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// SetFields sets field values. expectedVersion 0 skips the version check.
func (c *Client) SetFields(ctx context.Context, id string, fields map[int64]string, expectedVersion int64) (Object, error) {
	body := map[string]any{
		"fields":           fieldMap(fields),
		"expected_version": expectedVersion,
	}
	var resp Object
	err := c.do(ctx, http.MethodPut, c.projectPath("objects/"+url.PathEscape(id)+"/fields"), body, &resp)
	return resp, err
}

// Transition moves an object. expectedVersion 0 skips the version check.
func (c *Client) Transition(ctx context.Context, id string, targetStatusID, expectedVersion int64) (Object, error) {
	body := map[string]any{
		"target_status_id": targetStatusID,
		"expected_version": expectedVersion,
	}
	var resp Object
	err := c.do(ctx, http.MethodPost, c.projectPath("objects/"+url.PathEscape(id)+"/transition"), body, &resp)
	return resp, err
}

func (c *Client) CheckTransition(ctx context.Context, id string, targetStatusID int64) (TransitionCheck, error) {
	var resp TransitionCheck
	err := c.do(ctx, http.MethodPost, c.projectPath("objects/"+url.PathEscape(id)+"/transition/check"),
		map[string]any{"target_status_id": targetStatusID}, &resp)
	return resp, err
}

// RenderReport renders the workflow of objectType as self-contained HTML.
func (c *Client) RenderReport(ctx context.Context, objectType string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, c.projectPath("reports/statuses"), map[string]any{"object_type": objectType}, &resp)
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
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func fieldMap(fields map[int64]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for id, v := range fields {
		out[strconv.FormatInt(id, 10)] = v
	}
	return out
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
