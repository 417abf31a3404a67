package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/shaiso/Harvester/internal/backoff"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/ratelimit"
	"github.com/shaiso/Harvester/internal/source"
	"github.com/shaiso/Harvester/internal/worker"
)

// ErrInvalidProviders — файл provider'ов не прошёл проверку.
var ErrInvalidProviders = errors.New("invalid providers file")

//go:embed providers.schema.json
var providersSchema []byte

var schema = mustSchema(providersSchema)

func mustSchema(data []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("providers schema: %v", err))
	}
	return s
}

// RateLimit — квоты provider'а.
type RateLimit struct {
	Windows []struct {
		Limit  int      `json:"limit"`
		Period Duration `json:"period"`
	} `json:"windows,omitempty"`

	// QueueLimit — сколько вызовов ждут допуска. 0 — fail fast, <0 — без лимита.
	QueueLimit int `json:"queue_limit,omitempty"`

	// Smooth — равномерный темп, вызовов/сек.
	Smooth float64 `json:"smooth,omitempty"`
}

// Backoff — стратегия повторов provider'а.
type Backoff struct {
	Kind     string   `json:"kind,omitempty"`
	Seed     Duration `json:"seed,omitempty"`
	Factor   float64  `json:"factor,omitempty"`
	MaxDelay Duration `json:"max_delay,omitempty"`
	Jitter   float64  `json:"jitter,omitempty"`
	MaxRetry int      `json:"max_retry,omitempty"`
}

// HTTP — generic HTTP provider.
type HTTP struct {
	source.HTTPConfig
	Timeout Duration `json:"timeout,omitempty"`
}

// Provider — конфигурация одного provider'а.
type Provider struct {
	Name string `json:"name"`

	// Schedule — cron для daemon'а. Пусто — только ручные runs.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	MaxRuntime Duration `json:"max_runtime,omitempty"`

	UnitParallelism  int      `json:"unit_parallelism,omitempty"`
	TaskParallelism  int      `json:"task_parallelism,omitempty"`
	FetchLimit       int      `json:"fetch_limit,omitempty"`
	MaxErrors        int      `json:"max_errors,omitempty"`
	ValidityHorizon  Duration `json:"validity_horizon,omitempty"`
	DefaultBatchSize int      `json:"default_batch_size,omitempty"`

	PollInterval Duration `json:"poll_interval,omitempty"`
	MaxPolls     int      `json:"max_polls,omitempty"`
	NoDataPolicy string   `json:"no_data_policy,omitempty"`

	RateLimit RateLimit `json:"rate_limit"`
	Backoff   Backoff   `json:"backoff"`

	// ResetHeader — заголовок с временем сброса квоты (кроме Retry-After).
	ResetHeader string `json:"reset_header,omitempty"`

	HTTP HTTP `json:"http"`

	Definitions []domain.ReportDefinition `json:"definitions"`
}

// BackoffStrategy собирает backoff.Strategy.
func (p *Provider) BackoffStrategy() (backoff.Strategy, error) {
	kind, err := backoff.ParseKind(p.Backoff.Kind)
	if err != nil {
		return backoff.Strategy{}, err
	}
	return backoff.Strategy{
		Kind:     kind,
		Seed:     p.Backoff.Seed.D(),
		Factor:   p.Backoff.Factor,
		MaxDelay: p.Backoff.MaxDelay.D(),
		Jitter:   p.Backoff.Jitter,
		MaxRetry: p.Backoff.MaxRetry,
	}.WithDefaults(), nil
}

// LimiterConfig собирает конфигурацию rate limiter'а.
func (p *Provider) LimiterConfig() ratelimit.Config {
	cfg := ratelimit.Config{
		QueueLimit: p.RateLimit.QueueLimit,
		Smooth:     p.RateLimit.Smooth,
	}
	for _, w := range p.RateLimit.Windows {
		cfg.Windows = append(cfg.Windows, ratelimit.Window{Limit: w.Limit, Period: w.Period.D()})
	}
	return cfg
}

// SourceConfig возвращает конфигурацию HTTP source с именем provider'а.
func (p *Provider) SourceConfig() source.HTTPConfig {
	cfg := p.HTTP.HTTPConfig
	cfg.Name = p.Name
	cfg.Timeout = p.HTTP.Timeout.D()
	return cfg
}

// NoData разбирает no-data policy.
func (p *Provider) NoData() (worker.NoDataPolicy, error) {
	return worker.ParseNoDataPolicy(p.NoDataPolicy)
}

// Providers — содержимое файла provider'ов.
type Providers struct {
	Providers []Provider `json:"providers"`
}

// Get возвращает provider по имени.
func (ps *Providers) Get(name string) (*Provider, bool) {
	for i := range ps.Providers {
		if ps.Providers[i].Name == name {
			return &ps.Providers[i], true
		}
	}
	return nil, false
}

// Names возвращает имена provider'ов в порядке файла.
func (ps *Providers) Names() []string {
	names := make([]string, 0, len(ps.Providers))
	for _, p := range ps.Providers {
		names = append(names, p.Name)
	}
	return names
}

// LoadProviders читает и проверяет файл provider'ов.
func LoadProviders(path string) (*Providers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders проверяет документ по JSON Schema, затем семантику.
func ParseProviders(data []byte) (*Providers, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviders, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviders, strings.Join(msgs, "; "))
	}

	var ps Providers
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&ps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviders, err)
	}

	if err := ps.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProviders, err)
	}
	return &ps, nil
}

// validate проверяет то, что не выражается схемой.
func (ps *Providers) validate() error {
	names := make(map[string]bool)
	for i := range ps.Providers {
		p := &ps.Providers[i]
		if names[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		names[p.Name] = true

		defs := make(map[string]bool)
		for _, d := range p.Definitions {
			if defs[d.ID] {
				return fmt.Errorf("provider %s: duplicate definition %q", p.Name, d.ID)
			}
			defs[d.ID] = true
		}

		if _, err := p.BackoffStrategy(); err != nil {
			return fmt.Errorf("provider %s: %w", p.Name, err)
		}
		if _, err := p.NoData(); err != nil {
			return fmt.Errorf("provider %s: %w", p.Name, err)
		}
	}
	return nil
}
