// internal/llmclient/ollama_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
)

// DefaultOllamaBaseURL is the local Ollama server.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient implements schemas.ChatClient for models served by Ollama.
type OllamaClient struct {
	client         *api.Client
	config         config.LLMConfig
	limiter        *rate.Limiter
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

var _ schemas.ChatClient = (*OllamaClient)(nil)

// authTransport adds a bearer token for remote Ollama servers behind auth.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(req)
}

// NewOllamaClient initializes the client. No API key is needed for a local server.
func NewOllamaClient(cfg config.LLMConfig, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("Ollama model is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOllamaBaseURL
	}
	baseURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama endpoint %q: %w", endpoint, err)
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	if cfg.APIKey != "" {
		httpClient.Transport = &authTransport{base: http.DefaultTransport, apiKey: cfg.APIKey}
	}

	return &OllamaClient{
		client:         api.NewClient(baseURL, httpClient),
		config:         cfg,
		limiter:        newLimiter(cfg.RequestsPerSecond),
		logger:         logger.Named("llm_client.ollama"),
		backoffFactory: defaultBackoff(cfg.RetryMaxElapsed),
	}, nil
}

// Chat sends the conversation to the Ollama chat endpoint with retries.
func (c *OllamaClient) Chat(ctx context.Context, req schemas.ChatRequest) (*schemas.ChatResponse, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var result *schemas.ChatResponse

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var final api.ChatResponse
		var content strings.Builder
		var calls []api.ToolCall

		startTime := time.Now()
		err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			content.WriteString(resp.Message.Content)
			calls = append(calls, resp.Message.ToolCalls...)
			if resp.Done {
				final = resp
			}
			return nil
		})
		duration := time.Since(startTime)
		if err != nil {
			return c.handleAPIError(ctx, err)
		}

		c.logger.Info("LLM generation complete (Ollama)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", final.PromptEvalCount),
			zap.Int("completion_tokens", final.EvalCount),
		)

		msg := schemas.Message{Role: schemas.RoleAssistant, Content: content.String()}
		for i, tc := range calls {
			msg.ToolCalls = append(msg.ToolCalls, convertOllamaToolCall(tc, i))
		}
		result = &schemas.ChatResponse{
			Message:      msg,
			FinishReason: final.DoneReason,
			Usage: schemas.Usage{
				PromptTokens:     final.PromptEvalCount,
				CompletionTokens: final.EvalCount,
			},
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *OllamaClient) buildRequest(req schemas.ChatRequest) (*api.ChatRequest, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: make([]api.Message, 0, len(req.Messages)),
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": c.config.Temperature,
		},
	}
	if c.config.MaxTokens > 0 {
		chatReq.Options["num_predict"] = c.config.MaxTokens
	}

	for _, m := range req.Messages {
		msg, err := toOllamaMessage(m)
		if err != nil {
			return nil, err
		}
		chatReq.Messages = append(chatReq.Messages, msg)
	}

	if req.ToolChoice != schemas.ToolChoiceNone {
		for _, def := range req.Tools {
			chatReq.Tools = append(chatReq.Tools, toOllamaTool(def))
		}
	}
	return chatReq, nil
}

func toOllamaMessage(m schemas.Message) (api.Message, error) {
	msg := api.Message{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.Name,
	}
	for _, img := range m.Images {
		_, data, err := img.Decode()
		if err != nil {
			return api.Message{}, fmt.Errorf("failed to attach image: %w", err)
		}
		msg.Images = append(msg.Images, api.ImageData(data))
	}
	for _, tc := range m.ToolCalls {
		raw := map[string]any{}
		if strings.TrimSpace(tc.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Arguments), &raw); err != nil {
				return api.Message{}, fmt.Errorf("tool call %s has malformed arguments: %w", tc.ID, err)
			}
		}
		args := api.NewToolCallFunctionArguments()
		for k, v := range raw {
			args.Set(k, v)
		}
		msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
			ID: tc.ID,
			Function: api.ToolCallFunction{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return msg, nil
}

func toOllamaTool(def schemas.ToolDefinition) api.Tool {
	params := api.ToolFunctionParameters{
		Type:       "object",
		Properties: api.NewToolPropertiesMap(),
	}
	if def.Parameters != nil {
		params.Required = def.Parameters.Required
		for name, prop := range def.Parameters.Properties {
			p := api.ToolProperty{
				Type:        api.PropertyType{prop.Type},
				Description: prop.Description,
			}
			if prop.Items != nil {
				p.Items = prop.Items
			}
			params.Properties.Set(name, p)
		}
	}
	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		},
	}
}

func convertOllamaToolCall(tc api.ToolCall, index int) schemas.ToolCall {
	id := tc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	args, err := json.Marshal(tc.Function.Arguments.ToMap())
	if err != nil {
		args = []byte("{}")
	}
	return schemas.ToolCall{ID: id, Name: tc.Function.Name, Arguments: string(args)}
}

func (c *OllamaClient) handleAPIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}

	var statusErr api.StatusError
	var statusErrPtr *api.StatusError
	status := 0
	switch {
	case errors.As(err, &statusErr):
		status = statusErr.StatusCode
	case errors.As(err, &statusErrPtr):
		status = statusErrPtr.StatusCode
	default:
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return fmt.Errorf("failed to execute Ollama request: %w", err)
	}

	c.logger.Error("Ollama API returned error status", zap.Int("status", status), zap.Error(err))
	wrapped := fmt.Errorf("ollama API error: status %d: %w", status, err)
	if isTransientStatus(status) {
		return wrapped
	}
	return backoff.Permanent(wrapped)
}
