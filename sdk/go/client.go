package demandlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Demandline HTTP API client bound to one session.
type Client struct {
	BaseURL string
	// BasePath is the API prefix, /v0 when empty.
	BasePath   string
	SessionID  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. Call CreateSession before any
// session-scoped call, or set SessionID to join an existing session.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type Demand struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Type            string     `json:"type"`
	TypeLabel       string     `json:"type_label"`
	Status          string     `json:"status"`
	LeaderID        string     `json:"leader_id"`
	LeaderConfirmed bool       `json:"leader_confirmed"`
	AssigneeID      string     `json:"assignee_id"`
	Priority        string     `json:"priority"`
	CreatedAt       time.Time  `json:"created_at"`
	DueDate         string     `json:"due_date"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// NewDemand is the create payload. DueDate is YYYY-MM-DD.
type NewDemand struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	AssigneeID  string `json:"assignee_id"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"due_date"`
}

type Activity struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	DemandID     int64     `json:"demand_id"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actor_id"`
	ActorName    string    `json:"actor_name"`
	StatusAtTime string    `json:"status_at_time"`
}

type Row struct {
	Key            string  `json:"key"`
	Label          string  `json:"label"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Pending        int     `json:"pending"`
	CompletionRate float64 `json:"completion_rate"`
}

type Dashboard struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completion_rate"`
	ByAssignee     []Row   `json:"by_assignee"`
	ByType         []Row   `json:"by_type"`
	Period         *struct {
		Start         string  `json:"start"`
		End           string  `json:"end"`
		Total         int     `json:"total"`
		DayCount      int     `json:"day_count"`
		AveragePerDay float64 `json:"average_per_day"`
	} `json:"period,omitempty"`
}

// Filter narrows list, dashboard and report calls. Empty fields match all.
type Filter struct {
	Statuses    []string
	Priorities  []string
	Types       []string
	AssigneeIDs []string
	From, To    string
	Newest      bool
}

func (f Filter) values() url.Values {
	v := url.Values{}
	set := func(key string, items []string) {
		if len(items) > 0 {
			v.Set(key, strings.Join(items, ","))
		}
	}
	set("status", f.Statuses)
	set("priority", f.Priorities)
	set("type", f.Types)
	set("assignee_id", f.AssigneeIDs)
	if f.From != "" {
		v.Set("from", f.From)
	}
	if f.To != "" {
		v.Set("to", f.To)
	}
	if f.Newest {
		v.Set("order", "newest")
	}
	return v
}

type ActivityFilter struct {
	ActorNames []string
	Types      []string
	DemandID   int64
	Limit      int
}

type Report struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// APIError wraps non-2xx responses.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

// CreateSession opens a fresh session and binds the client to it.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var resp Session
	if err := c.do(ctx, http.MethodPost, c.path("sessions"), nil, &resp); err != nil {
		return resp, err
	}
	c.SessionID = resp.ID
	return resp, nil
}

// CloseSession discards the bound session and everything in it.
func (c *Client) CloseSession(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, c.path("sessions", url.PathEscape(c.SessionID)), nil, nil)
	if err == nil {
		c.SessionID = ""
	}
	return err
}

func (c *Client) CreateDemand(ctx context.Context, d NewDemand) (Demand, error) {
	var resp Demand
	err := c.do(ctx, http.MethodPost, c.sessionPath("demands"), d, &resp)
	return resp, err
}

func (c *Client) GetDemand(ctx context.Context, id int64) (Demand, error) {
	var resp Demand
	err := c.do(ctx, http.MethodGet, c.sessionPath("demands", strconv.FormatInt(id, 10)), nil, &resp)
	return resp, err
}

func (c *Client) CompleteDemand(ctx context.Context, id int64, actorID string) (Demand, error) {
	return c.transition(ctx, id, "complete", actorID)
}

func (c *Client) ConfirmDemand(ctx context.Context, id int64, actorID string) (Demand, error) {
	return c.transition(ctx, id, "confirm", actorID)
}

func (c *Client) transition(ctx context.Context, id int64, action, actorID string) (Demand, error) {
	var resp Demand
	body := map[string]string{"actor_id": actorID}
	err := c.do(ctx, http.MethodPost, c.sessionPath("demands", strconv.FormatInt(id, 10), action), body, &resp)
	return resp, err
}

func (c *Client) ListDemands(ctx context.Context, f Filter) ([]Demand, error) {
	var resp []Demand
	err := c.do(ctx, http.MethodGet, withQuery(c.sessionPath("demands"), f.values()), nil, &resp)
	return resp, err
}

// PendingConfirmation lists completed demands awaiting the leader.
func (c *Client) PendingConfirmation(ctx context.Context) ([]Demand, error) {
	var resp []Demand
	err := c.do(ctx, http.MethodGet, c.sessionPath("confirmations"), nil, &resp)
	return resp, err
}

// Activity returns ledger records, most recent first.
func (c *Client) Activity(ctx context.Context, f ActivityFilter) ([]Activity, error) {
	v := url.Values{}
	if len(f.ActorNames) > 0 {
		v.Set("actor", strings.Join(f.ActorNames, ","))
	}
	if len(f.Types) > 0 {
		v.Set("type", strings.Join(f.Types, ","))
	}
	if f.DemandID > 0 {
		v.Set("demand_id", strconv.FormatInt(f.DemandID, 10))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, withQuery(c.sessionPath("activity"), v), nil, &resp)
	return resp, err
}

// Dashboard honors the type, assignee and date fields of f.
func (c *Client) Dashboard(ctx context.Context, f Filter) (Dashboard, error) {
	f.Statuses, f.Priorities, f.Newest = nil, nil, false
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, withQuery(c.sessionPath("dashboard"), f.values()), nil, &resp)
	return resp, err
}

// Report downloads a csv or pdf report with detail complete or summary.
func (c *Client) Report(ctx context.Context, format, detail string, f Filter) (Report, error) {
	f.Priorities, f.Newest = nil, false
	v := f.values()
	v.Set("format", format)
	v.Set("detail", detail)
	resp, err := c.send(ctx, http.MethodGet, withQuery(c.sessionPath("reports"), v), nil)
	if err != nil {
		return Report{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Report{}, err
	}
	rep := Report{ContentType: resp.Header.Get("Content-Type"), Payload: payload}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		rep.Filename = params["filename"]
	}
	return rep, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(b, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	} else {
		apiErr.Message = string(b)
	}
	return apiErr
}

func (c *Client) path(parts ...string) string {
	prefix := strings.Trim(c.BasePath, "/")
	if prefix == "" {
		prefix = "v0"
	}
	return prefix + "/" + strings.Join(parts, "/")
}

func (c *Client) sessionPath(parts ...string) string {
	return c.path(append([]string{"sessions", url.PathEscape(c.SessionID)}, parts...)...)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint string, v url.Values) string {
	if len(v) == 0 {
		return endpoint
	}
	return endpoint + "?" + v.Encode()
}
