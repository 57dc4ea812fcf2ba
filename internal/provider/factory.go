package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clawgate/internal/config"
	"clawgate/internal/domain"
)

// Constructor creates a backend from a config entry.
type Constructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM backends from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a constructor for a provider type.
func (f *Factory) RegisterConstructor(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Timeout: seconds(pc.TimeoutSeconds), Logger: logger})
	}
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{Name: name, APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: seconds(pc.TimeoutSeconds), Logger: logger})
	}
	f.constructors["anthropic"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewAnthropic(AnthropicConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Timeout: seconds(pc.TimeoutSeconds), Logger: logger})
	}
}

// Get returns the backend with the given name, or the default if name is
// empty. Created backends are cached.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, found := f.constructors[pc.Kind(name)]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor for type %q", name, pc.Kind(name))
	}

	p := ctor(name, pc, f.logger)
	f.cache[name] = p
	return p, nil
}

// Reliable composes the default provider and the failover chain into a
// ReliableProvider using the configured retry policy and model fallbacks.
func (f *Factory) Reliable() (*ReliableProvider, error) {
	names := []string{f.cfg.General.DefaultProvider}
	for _, n := range f.cfg.General.FailoverChain {
		if n != f.cfg.General.DefaultProvider {
			names = append(names, n)
		}
	}

	var providers []domain.Provider
	for _, n := range names {
		p, err := f.Get(n)
		if err != nil {
			f.logger.Warn("skipping provider", "provider", n, "err", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable provider among %v", names)
	}

	rc := f.cfg.General.Retry
	return NewReliable(ReliableConfig{
		Providers: providers,
		Retry: Retry{
			MaxRetries:    rc.MaxRetries,
			BaseDelay:     time.Duration(rc.BaseDelayMs) * time.Millisecond,
			MaxDelay:      time.Duration(rc.MaxDelayMs) * time.Millisecond,
			MaxRetryAfter: seconds(rc.MaxRetryAfterSeconds),
		},
		Fallbacks: f.cfg.General.ModelFallbacks,
		Logger:    f.logger,
	}), nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
