package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/retry"
)

const defaultHTTPTimeout = 60 * time.Second

// Endpoint — описание одного HTTP-вызова provider'а.
//
// Path и Body — Go templates (см. TemplateData). Path может быть
// абсолютным URL или путём относительно BaseURL.
type Endpoint struct {
	Method string `json:"method,omitempty"`
	Path   string `json:"path"`
	Body   string `json:"body,omitempty"`

	// TokenField — путь к token в JSON-ответе submit ("reportId", "data.task_id").
	// Пусто — provider синхронный, ответ и есть данные.
	TokenField string `json:"token_field,omitempty"`

	// StatusField — путь к статусу в ответе poll.
	StatusField string `json:"status_field,omitempty"`

	// DownloadURLField — путь к ссылке на отчёт в ответе poll.
	DownloadURLField string `json:"download_url_field,omitempty"`

	// ItemsField, IDField — путь к массиву и к ID элемента в ответе списка sub-entities.
	ItemsField string `json:"items_field,omitempty"`
	IDField    string `json:"id_field,omitempty"`

	// NoAuth — не добавлять заголовки и credential (presigned URL).
	NoAuth bool `json:"no_auth,omitempty"`
}

// HTTPConfig — конфигурация HTTPSource.
type HTTPConfig struct {
	Name    string            `json:"name"`
	BaseURL string            `json:"base_url"`
	Headers map[string]string `json:"headers,omitempty"`

	// CredentialEnv / CredentialFile — откуда читать bearer token.
	// Перечитывается на каждом Refresh: внешний OAuth-процесс обновляет его сам.
	CredentialEnv  string `json:"credential_env,omitempty"`
	CredentialFile string `json:"credential_file,omitempty"`

	Submit      Endpoint  `json:"submit"`
	Poll        *Endpoint `json:"poll,omitempty"`
	Download    *Endpoint `json:"download,omitempty"`
	SubEntities *Endpoint `json:"sub_entities,omitempty"`

	Vocabulary StatusVocabulary `json:"vocabulary"`

	// PoisonStatus — HTTP-коды списка sub-entities, означающие «entity непригодна».
	PoisonStatus []int `json:"poison_status,omitempty"`

	Timeout time.Duration `json:"-"`
}

// HTTPSource — Source, целиком описанный конфигурацией.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPSource создаёт HTTPSource и читает credential.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if cfg.Name == "" {
		return nil, errors.New("source name is required")
	}
	if cfg.Submit.Path == "" {
		return nil, fmt.Errorf("source %s: submit path is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if len(cfg.PoisonStatus) == 0 {
		cfg.PoisonStatus = []int{http.StatusForbidden, http.StatusNotFound}
	}

	s := &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if err := s.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Name возвращает имя provider'а.
func (s *HTTPSource) Name() string {
	return s.cfg.Name
}

// Async возвращает true, если provider асинхронный (есть token в ответе submit).
func (s *HTTPSource) Async() bool {
	return s.cfg.Submit.TokenField != ""
}

// Refresh перечитывает bearer token.
func (s *HTTPSource) Refresh(ctx context.Context) error {
	var token string
	switch {
	case s.cfg.CredentialFile != "":
		data, err := os.ReadFile(s.cfg.CredentialFile)
		if err != nil {
			return fmt.Errorf("read credential file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	case s.cfg.CredentialEnv != "":
		token = os.Getenv(s.cfg.CredentialEnv)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Submit отправляет запрос на построение отчёта.
func (s *HTTPSource) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	resp, err := s.do(ctx, s.cfg.Submit, NewTemplateData(req), "POST")
	if err != nil {
		return nil, err
	}

	// Синхронный provider: ответ и есть данные
	if s.cfg.Submit.TokenField == "" {
		return &SubmitResult{Body: resp.Body}, nil
	}
	defer resp.Body.Close()

	doc, err := decodeJSON(resp.Body)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	token := lookupString(doc, s.cfg.Submit.TokenField)
	if token == "" {
		return nil, retry.Permanent(fmt.Errorf("%w: field %q", ErrNoToken, s.cfg.Submit.TokenField))
	}
	return &SubmitResult{Token: token}, nil
}

// Poll опрашивает статус отчёта.
func (s *HTTPSource) Poll(ctx context.Context, req Request) (Status, error) {
	if s.cfg.Poll == nil {
		return Status{State: PollCompleted}, nil
	}

	resp, err := s.do(ctx, *s.cfg.Poll, NewTemplateData(req), "GET")
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	doc, err := decodeJSON(resp.Body)
	if err != nil {
		return Status{}, retry.Permanent(err)
	}

	raw := lookupString(doc, s.cfg.Poll.StatusField)
	return Status{
		State:       s.cfg.Vocabulary.Map(raw),
		Raw:         raw,
		DownloadURL: lookupString(doc, s.cfg.Poll.DownloadURLField),
	}, nil
}

// Download открывает поток готового отчёта.
//
// Приоритет: ссылка из poll (task.DownloadURL), затем шаблон download.
func (s *HTTPSource) Download(ctx context.Context, req Request) (io.ReadCloser, error) {
	var ep Endpoint
	switch {
	case req.Task != nil && req.Task.DownloadURL != "":
		// Ссылки из poll обычно presigned: свой Authorization их ломает
		ep = Endpoint{Method: "GET", Path: req.Task.DownloadURL, NoAuth: true}
	case s.cfg.Download != nil:
		ep = *s.cfg.Download
	default:
		return nil, retry.Permanent(ErrNoDownloadURL)
	}

	resp, err := s.do(ctx, ep, NewTemplateData(req), "GET")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ListSubEntities возвращает ID sub-entities entity unit'а.
func (s *HTTPSource) ListSubEntities(ctx context.Context, unit *domain.UnitOfWork) ([]string, error) {
	if s.cfg.SubEntities == nil {
		return nil, nil
	}

	resp, err := s.do(ctx, *s.cfg.SubEntities, NewTemplateData(Request{Unit: unit}), "GET")
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && s.isPoison(se.Code) {
			return nil, retry.Permanent(fmt.Errorf("%w: %s: %v", ErrPoisonEntity, unit.EntityID, err))
		}
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := decodeJSON(resp.Body)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	items := doc
	if s.cfg.SubEntities.ItemsField != "" {
		items, _ = lookup(doc, s.cfg.SubEntities.ItemsField)
	}
	list, ok := items.([]any)
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("%w: sub entities are not a list", ErrMalformedResponse))
	}

	ids := make([]string, 0, len(list))
	for _, item := range list {
		v := item
		if s.cfg.SubEntities.IDField != "" {
			v, _ = lookup(item, s.cfg.SubEntities.IDField)
		}
		if id := stringify(v); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *HTTPSource) isPoison(code int) bool {
	for _, c := range s.cfg.PoisonStatus {
		if c == code {
			return true
		}
	}
	return false
}

// do выполняет HTTP-вызов. Ответ >= 400 превращается в *retry.StatusError.
func (s *HTTPSource) do(ctx context.Context, ep Endpoint, data TemplateData, defaultMethod string) (*http.Response, error) {
	url, err := Render(ep.Path, data)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.TrimLeft(url, "/")
	}

	var bodyReader io.Reader
	if ep.Body != "" {
		body, err := Render(ep.Body, data)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		bodyReader = bytes.NewReader([]byte(body))
	}

	method := ep.Method
	if method == "" {
		method = defaultMethod
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	if !ep.NoAuth {
		if err := s.setHeaders(req, data); err != nil {
			return nil, err
		}
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &retry.StatusError{
			Code:   resp.StatusCode,
			Header: resp.Header,
			Body:   truncate(strings.TrimSpace(string(snippet)), 200),
		}
	}

	return resp, nil
}

// setHeaders устанавливает заголовки provider'а и bearer token.
func (s *HTTPSource) setHeaders(req *http.Request, data TemplateData) error {
	for key, val := range s.cfg.Headers {
		rendered, err := Render(val, data)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set(key, rendered)
	}

	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func decodeJSON(r io.Reader) (any, error) {
	var doc any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return doc, nil
}

// lookup достаёт значение по пути "a.b.0.c".
func lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	for _, part := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			v = node[i]
		default:
			return nil, false
		}
	}
	return v, true
}

func lookupString(v any, path string) string {
	if path == "" {
		return ""
	}
	found, ok := lookup(v, path)
	if !ok {
		return ""
	}
	return stringify(found)
}

// stringify приводит скалярное JSON-значение к строке.
// Числовые ID приходят как float64: 1234567890 не должен стать "1.23456789e+09".
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
