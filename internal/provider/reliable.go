package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"clawgate/internal/domain"
)

// Failure is one provider/model pair that could not produce a response.
type Failure struct {
	Provider string
	Model    string
	Message  string
}

// ExhaustedError is returned when every provider/model pair failed.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("all providers/models failed:")
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n%s/%s: %s", f.Provider, f.Model, f.Message)
	}
	return b.String()
}

// ReliableConfig configures a ReliableProvider.
type ReliableConfig struct {
	Providers []domain.Provider
	Retry     Retry
	// Fallbacks lists, per requested model, the models to try after it.
	Fallbacks map[string][]string
	Logger    *slog.Logger
}

// ReliableProvider retries each provider and falls back across providers
// and models. For every model in the chain, providers are tried in order;
// the first success wins.
type ReliableProvider struct {
	providers []domain.Provider
	retry     Retry
	fallbacks map[string][]string
	logger    *slog.Logger
}

func NewReliable(cfg ReliableConfig) *ReliableProvider {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ReliableProvider{
		providers: cfg.Providers,
		retry:     cfg.Retry,
		fallbacks: cfg.Fallbacks,
		logger:    cfg.Logger,
	}
}

func (rp *ReliableProvider) Name() string {
	names := make([]string, len(rp.providers))
	for i, p := range rp.providers {
		names[i] = p.Name()
	}
	return "reliable(" + strings.Join(names, "→") + ")"
}

// Chat tries every provider/model pair until one responds. The response is
// annotated with the pair that produced it.
func (rp *ReliableProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var failures []Failure
	for _, model := range rp.modelChain(req.Model) {
		attempt := req
		attempt.Model = model
		for i, p := range rp.providers {
			resp, err := Call(ctx, rp.retry, func(ctx context.Context) (*domain.ChatResponse, error) {
				return p.Chat(ctx, attempt)
			})
			if err == nil && resp == nil {
				err = errNoResponse
			}
			if err == nil {
				if model != req.Model || i > 0 {
					rp.logger.Info("recovered via fallback",
						"provider", p.Name(),
						"model", model,
					)
				}
				resp.Provider = p.Name()
				if model != "" {
					resp.Model = model
				}
				return resp, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = append(failures, Failure{Provider: p.Name(), Model: model, Message: rootMessage(err)})
			rp.logger.Warn("provider failed, trying next",
				"provider", p.Name(),
				"model", model,
				"error", err,
			)
		}
	}
	return nil, &ExhaustedError{Failures: failures}
}

// errNoResponse stands in for a backend that returned neither a response
// nor an error.
var errNoResponse = errors.New("provider returned no response")

func (rp *ReliableProvider) modelChain(model string) []string {
	return append([]string{model}, rp.fallbacks[model]...)
}

func rootMessage(err error) string {
	var re *RetryError
	if errors.As(err, &re) {
		err = re.Last
	}
	return err.Error()
}
