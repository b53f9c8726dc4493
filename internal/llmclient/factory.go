// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
)

// NewClient is a factory function that creates a ChatClient based on the configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.ChatClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOllama:
		return NewOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderOpenAI, config.ProviderGemini, config.ProviderOllama)
	}
}

// APIError is a non-success HTTP status returned by a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Provider, e.StatusCode, e.Body)
}

// isTransientStatus reports whether a request failing with status may be retried.
func isTransientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func defaultBackoff(maxElapsed time.Duration) func() backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = maxElapsed
		b.MaxInterval = 30 * time.Second
		return b
	}
}

// newLimiter paces requests to rps per second. A non-positive rate disables pacing.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
