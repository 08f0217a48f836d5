// Package provider resolves opaque model identifiers to streaming model
// handles backed by upstream provider adapters.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/llm"
	"github.com/af-corp/scout/internal/provider/adapters"
)

var (
	ErrUnknownModel        = errors.New("unknown model")
	ErrMissingCredentials  = errors.New("missing provider credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// MiddlewareReasoning marks a model whose text carries inline reasoning tags.
const MiddlewareReasoning = "reasoning"

// Handle is a resolved model identifier.
type Handle struct {
	llm.Model

	ID            string
	DisplayName   string
	Provider      string
	ProviderModel string
	Middleware    string
	SupportsTools bool
}

// ModelInfo describes one configured identifier for listing.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Provider    string `json:"provider"`
	Tools       bool   `json:"tools"`
}

// Registry manages provider adapters and the model identifiers that map onto them.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapters.ProviderAdapter
	models   map[string]config.ModelMapping
	health   *HealthTracker
}

func NewRegistry(health *HealthTracker) *Registry {
	if health == nil {
		health = NewHealthTracker(5, 30*time.Second)
	}
	return &Registry{
		adapters: make(map[string]adapters.ProviderAdapter),
		models:   make(map[string]config.ModelMapping),
		health:   health,
	}
}

func (r *Registry) Register(name string, adapter adapters.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

// SetModels replaces the identifier table.
func (r *Registry) SetModels(models map[string]config.ModelMapping) {
	next := make(map[string]config.ModelMapping, len(models))
	for id, m := range models {
		next[id] = m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = next
}

// Resolve maps a model identifier to a streaming handle.
func (r *Registry) Resolve(modelID string) (*Handle, error) {
	r.mu.RLock()
	mapping, ok := r.models[modelID]
	var adapter adapters.ProviderAdapter
	if ok {
		adapter = r.adapters[mapping.Provider]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: %q references unconfigured provider %q", ErrUnknownModel, modelID, mapping.Provider)
	}
	if !adapter.HasCredentials() {
		return nil, fmt.Errorf("%w: provider %q for model %q", ErrMissingCredentials, mapping.Provider, modelID)
	}

	var model llm.Model = &trackedModel{
		adapter: adapter,
		model:   mapping.Model,
		health:  r.health,
	}
	if mapping.Middleware == MiddlewareReasoning {
		model = llm.WithReasoning(model, mapping.ReasoningTag)
	}

	return &Handle{
		Model:         model,
		ID:            modelID,
		DisplayName:   mapping.DisplayName,
		Provider:      mapping.Provider,
		ProviderModel: mapping.Model,
		Middleware:    mapping.Middleware,
		SupportsTools: mapping.SupportsTools(),
	}, nil
}

// Models lists configured identifiers sorted by id.
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelInfo, 0, len(r.models))
	for id, m := range r.models {
		out = append(out, ModelInfo{ID: id, DisplayName: m.DisplayName, Provider: m.Provider, Tools: m.SupportsTools()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reload swaps adapters and identifiers from fresh configuration, keeping
// provider health state.
func (r *Registry) Reload(models *config.ModelsConfig, providers *config.ProvidersConfig) {
	next := BuildFromConfig(models, providers, r.health)
	next.mu.RLock()
	defer next.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = next.adapters
	r.models = next.models
}

// BuildFromConfig builds provider adapters and the identifier table.
func BuildFromConfig(models *config.ModelsConfig, providers *config.ProvidersConfig, health *HealthTracker) *Registry {
	registry := NewRegistry(health)
	for name, cfg := range providers.Providers {
		maxConns := cfg.Conns()
		client := &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxConns,
				MaxIdleConnsPerHost: maxConns,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
		registry.Register(name, adapters.New(name, cfg, client))
	}
	if models != nil {
		registry.SetModels(models.Models)
	}
	return registry
}

// trackedModel gates calls on the provider's circuit and reports outcomes.
type trackedModel struct {
	adapter adapters.ProviderAdapter
	model   string
	health  *HealthTracker
}

func (m *trackedModel) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	provider := m.adapter.Name()
	if !m.health.Allow(provider) {
		return nil, fmt.Errorf("%w: %s circuit open", ErrProviderUnavailable, provider)
	}
	stream, err := m.adapter.Stream(ctx, m.model, req)
	if err != nil {
		m.record(provider, err)
		return nil, err
	}
	return &trackedStream{Stream: stream, done: func(err error) { m.record(provider, err) }}, nil
}

func (m *trackedModel) record(provider string, err error) {
	if countsAgainstProvider(err) {
		m.health.RecordFailure(provider)
		return
	}
	m.health.RecordSuccess(provider)
}

// countsAgainstProvider is false for outcomes the caller caused: success,
// cancellation, and 4xx rejections other than 429.
func countsAgainstProvider(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *adapters.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

type trackedStream struct {
	llm.Stream
	once sync.Once
	done func(error)
}

func (s *trackedStream) Recv() (llm.Chunk, error) {
	chunk, err := s.Stream.Recv()
	if err != nil {
		s.once.Do(func() { s.done(err) })
	}
	return chunk, err
}

func (s *trackedStream) Close() error {
	s.once.Do(func() { s.done(nil) })
	return s.Stream.Close()
}

// Lazy returns a model that resolves modelID on every call, so it follows
// registry reloads.
func (r *Registry) Lazy(modelID string) llm.Model {
	return lazyModel{registry: r, id: modelID}
}

type lazyModel struct {
	registry *Registry
	id       string
}

func (m lazyModel) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	h, err := m.registry.Resolve(m.id)
	if err != nil {
		return nil, err
	}
	return h.Stream(ctx, req)
}
