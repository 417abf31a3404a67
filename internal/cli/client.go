package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, клиент не зависит от сервера) ---

// ArtifactResponse — artifact manifest'а.
type ArtifactResponse struct {
	Source    string `json:"source"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	WrittenAt string `json:"written_at"`
}

// UnitResponse — unit из API.
type UnitResponse struct {
	GUID        string             `json:"guid"`
	Provider    string             `json:"provider"`
	EntityID    string             `json:"entity_id"`
	Date        string             `json:"date"`
	Backfill    bool               `json:"backfill"`
	Status      string             `json:"status"`
	Artifacts   []ArtifactResponse `json:"artifacts"`
	TotalBytes  int64              `json:"total_bytes"`
	DeliveredAt string             `json:"delivered_at,omitempty"`
	Error       string             `json:"error,omitempty"`
	UpdatedAt   string             `json:"updated_at"`
}

// TaskResponse — task checkpoint'а.
type TaskResponse struct {
	DefinitionID string   `json:"definition_id"`
	SubEntityID  string   `json:"sub_entity_id,omitempty"`
	BatchIDs     []string `json:"batch_ids,omitempty"`
	State        string   `json:"state"`
	Token        string   `json:"token,omitempty"`
	SubmittedAt  string   `json:"submitted_at,omitempty"`
	Polls        int      `json:"polls,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// CheckpointResponse — checkpoint unit'а из API.
type CheckpointResponse struct {
	UnitGUID string         `json:"unit_guid"`
	Tasks    []TaskResponse `json:"tasks"`
	States   map[string]int `json:"states"`
}

// RunResult — счётчики run.
type RunResult struct {
	Processed      int   `json:"processed"`
	Skipped        int   `json:"skipped"`
	ErrorCount     int   `json:"error_count"`
	Complete       int   `json:"complete"`
	Pending        int   `json:"pending"`
	Failed         int   `json:"failed"`
	BudgetExceeded bool  `json:"budget_exceeded"`
	Duration       int64 `json:"duration"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Status     string    `json:"status"`
	Trigger    string    `json:"trigger"`
	Result     RunResult `json:"result"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// ProviderResponse — provider из API.
type ProviderResponse struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	NextRun string `json:"next_run,omitempty"`
}

// StartRunResponse — run принят daemon'ом.
type StartRunResponse struct {
	Provider   string `json:"provider"`
	MaxRuntime string `json:"max_runtime"`
	Status     string `json:"status"`
}

// --- Request types ---

// CreateUnitRequest — постановка unit'а в очередь.
type CreateUnitRequest struct {
	Provider string `json:"provider"`
	EntityID string `json:"entity_id"`
	Date     string `json:"date"`
	Backfill bool   `json:"backfill,omitempty"`
}

// StartRunRequest — запуск run на daemon'е.
type StartRunRequest struct {
	MaxRuntime  string `json:"max_runtime,omitempty"`
	RetryFailed bool   `json:"retry_failed,omitempty"`
}

// ListOpts — фильтры списков units и runs.
type ListOpts struct {
	Provider string
	Status   string
	EntityID string
	Limit    int
}

func (o ListOpts) values() url.Values {
	params := url.Values{}
	if o.Provider != "" {
		params.Set("provider", o.Provider)
	}
	if o.Status != "" {
		params.Set("status", o.Status)
	}
	if o.EntityID != "" {
		params.Set("entity_id", o.EntityID)
	}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	return params
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API daemon'а.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Units ---

// ListUnits возвращает units work queue.
func (c *Client) ListUnits(opts ListOpts) ([]UnitResponse, error) {
	var units []UnitResponse
	err := c.list("/api/v1/units", opts.values(), &units)
	return units, err
}

// CreateUnit ставит unit в очередь.
func (c *Client) CreateUnit(req CreateUnitRequest) (*UnitResponse, error) {
	var unit UnitResponse
	err := c.post("/api/v1/units", req, &unit)
	return &unit, err
}

// GetUnit возвращает unit по GUID.
func (c *Client) GetUnit(guid string) (*UnitResponse, error) {
	var unit UnitResponse
	err := c.get("/api/v1/units/"+url.PathEscape(guid), &unit)
	return &unit, err
}

// GetCheckpoint возвращает checkpoint unit'а.
func (c *Client) GetCheckpoint(guid string) (*CheckpointResponse, error) {
	var cp CheckpointResponse
	err := c.get("/api/v1/units/"+url.PathEscape(guid)+"/checkpoint", &cp)
	return &cp, err
}

// --- Runs ---

// ListRuns возвращает историю runs.
func (c *Client) ListRuns(opts ListOpts) ([]RunResponse, error) {
	var runs []RunResponse
	err := c.list("/api/v1/runs", opts.values(), &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// --- Providers ---

// ListProviders возвращает provider'ов daemon'а.
func (c *Client) ListProviders() ([]ProviderResponse, error) {
	var providers []ProviderResponse
	err := c.list("/api/v1/providers", nil, &providers)
	return providers, err
}

// StartRun запускает run provider'а на daemon'е.
func (c *Client) StartRun(provider string, req StartRunRequest) (*StartRunResponse, error) {
	var res StartRunResponse
	err := c.post("/api/v1/providers/"+url.PathEscape(provider)+"/runs", req, &res)
	return &res, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
