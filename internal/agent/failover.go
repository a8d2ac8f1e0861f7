package agent

import (
	"context"
	"slices"

	"github.com/soyeahso/conductor/internal/llm"
	"github.com/soyeahso/conductor/internal/logging"
)

// FailoverClient tries a primary model and then each fallback model on
// retryable provider errors.
type FailoverClient struct {
	registry  *llm.Registry
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client that falls back through the list on
// retryable errors (401, 429, 5xx, overload).
func NewFailoverClient(registry *llm.Registry, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Complete sends req to the provider for primary, then to each fallback.
// req.Model is replaced with the provider model id of each attempt.
func (f *FailoverClient) Complete(ctx context.Context, primary string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	models := []string{primary}
	for _, m := range f.fallbacks {
		if !slices.Contains(models, m) {
			models = append(models, m)
		}
	}

	var lastErr error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = f.registry.ModelID(model)
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !llm.IsRetryable(err) {
			return nil, err
		}
		f.log.Warn().
			Str("model", model).
			Str("provider", client.Name()).
			Err(err).
			Msg("retryable error, trying next model")
	}

	return nil, lastErr
}
