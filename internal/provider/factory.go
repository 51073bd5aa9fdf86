// Package provider assembles the concrete backends and resolves which one
// serves a given model.
package provider

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	chatSvc "arbor/internal/domain/services/chat"
	"arbor/internal/provider/anthropic"
	"arbor/internal/provider/lorem"
	"arbor/internal/provider/openrouter"
)

// modelSupporter is implemented by backends that can claim models by name
// shape (the "claude-" and "lorem" prefixes).
type modelSupporter interface {
	SupportsModel(model string) bool
}

// ModelMap is the optional models.yaml document pinning specific model names
// to backends. Prefix inference covers the rest.
type ModelMap struct {
	DefaultBackend string            `yaml:"default_backend"`
	Models         map[string]string `yaml:"models"`
}

// LoadModelMap reads a models.yaml file. A missing file is not an error;
// resolution falls back to prefix inference.
func LoadModelMap(path string) (*ModelMap, error) {
	if path == "" {
		return &ModelMap{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ModelMap{}, nil
		}
		return nil, fmt.Errorf("reading model map: %w", err)
	}
	var m ModelMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model map %s: %w", path, err)
	}
	return &m, nil
}

// Resolver maps model names onto backends: explicit models.yaml pins first,
// then name-shape inference, then the configured default backend.
type Resolver struct {
	backends       map[string]chatSvc.Backend
	order          []string
	models         map[string]string
	defaultBackend string
}

// Config carries the credentials and defaults for backend construction.
type Config struct {
	AnthropicAPIKey  string
	OpenRouterAPIKey string
	DefaultBackend   string
	ModelMapPath     string
}

// NewResolver builds every backend the configuration has credentials for.
// The lorem backend is always available so local environments work without
// any keys.
func NewResolver(cfg Config, logger *slog.Logger) (*Resolver, error) {
	r := &Resolver{
		backends: make(map[string]chatSvc.Backend),
		models:   make(map[string]string),
	}

	r.register(lorem.New(logger))

	if cfg.AnthropicAPIKey != "" {
		backend, err := anthropic.New(cfg.AnthropicAPIKey, logger)
		if err != nil {
			return nil, err
		}
		r.register(backend)
	}
	if cfg.OpenRouterAPIKey != "" {
		backend, err := openrouter.New(cfg.OpenRouterAPIKey, logger)
		if err != nil {
			return nil, err
		}
		r.register(backend)
	}

	modelMap, err := LoadModelMap(cfg.ModelMapPath)
	if err != nil {
		return nil, err
	}
	for model, backend := range modelMap.Models {
		if _, ok := r.backends[backend]; !ok {
			logger.Warn("model map names an unavailable backend",
				"model", model,
				"backend", backend,
			)
			continue
		}
		r.models[model] = backend
	}

	r.defaultBackend = cfg.DefaultBackend
	if r.defaultBackend == "" {
		r.defaultBackend = modelMap.DefaultBackend
	}
	if r.defaultBackend == "" {
		r.defaultBackend = "lorem"
	}
	if _, ok := r.backends[r.defaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q is not configured", r.defaultBackend)
	}

	logger.Info("backends configured",
		"backends", r.order,
		"default", r.defaultBackend,
		"pinned_models", len(r.models),
	)
	return r, nil
}

func (r *Resolver) register(b chatSvc.Backend) {
	r.backends[b.Name()] = b
	r.order = append(r.order, b.Name())
}

// ForModel picks the backend serving model. An unknown model name that no
// backend claims goes to the default backend, which reports its own error if
// it cannot serve it.
func (r *Resolver) ForModel(model string) (chatSvc.Backend, error) {
	if model == "" {
		return r.backends[r.defaultBackend], nil
	}

	if name, ok := r.models[model]; ok {
		return r.backends[name], nil
	}

	for _, name := range r.order {
		backend := r.backends[name]
		if s, ok := backend.(modelSupporter); ok && s.SupportsModel(model) {
			return backend, nil
		}
	}

	return r.backends[r.defaultBackend], nil
}
