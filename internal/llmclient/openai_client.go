// internal/llmclient/openai_client.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/observability"
)

// DefaultOpenAIBaseURL is used when no endpoint is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements schemas.ChatClient for OpenAI compatible chat
// completion endpoints.
type OpenAIClient struct {
	apiKey         string
	endpoint       string
	httpClient     *http.Client
	limiter        *rate.Limiter
	logger         *zap.Logger
	config         config.LLMConfig
	backoffFactory func() backoff.BackOff
}

var _ schemas.ChatClient = (*OpenAIClient)(nil)

// -- OpenAI API Request/Response Structures (Internal to this file) --

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role string `json:"role"`
	// Content is a string, a []openAIContentPart or nil.
	Content    any              `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIFunction struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  *schemas.ParameterSchema `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIRequestPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponseMessage struct {
	Role      string           `json:"role"`
	Content   *string          `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls"`
}

type openAIResponsePayload struct {
	Choices []struct {
		Message      openAIResponseMessage `json:"message"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("OpenAI model is required")
	}

	base := cfg.Endpoint
	if base == "" {
		base = DefaultOpenAIBaseURL
	}

	return &OpenAIClient{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(base, "/") + "/chat/completions",
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		limiter:        newLimiter(cfg.RequestsPerSecond),
		logger:         logger.Named("llm_client.openai"),
		backoffFactory: defaultBackoff(cfg.RetryMaxElapsed),
	}, nil
}

// Chat sends the conversation to the chat completions endpoint with retries.
func (c *OpenAIClient) Chat(ctx context.Context, req schemas.ChatRequest) (*schemas.ChatResponse, error) {
	payload, err := c.buildRequestPayload(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	if ce := c.logger.Check(zap.DebugLevel, "Sending chat completion request"); ce != nil {
		ce.Write(zap.String("payload", observability.RedactDataURIs(string(body))))
	}

	var result *schemas.ChatResponse

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload openAIResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(responsePayload.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai API returned no choices"))
		}

		c.logger.Info("LLM generation complete (OpenAI)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.Usage.PromptTokens),
			zap.Int("completion_tokens", responsePayload.Usage.CompletionTokens),
			zap.Int("total_tokens", responsePayload.Usage.TotalTokens),
		)

		choice := responsePayload.Choices[0]
		result = &schemas.ChatResponse{
			Message:      convertOpenAIMessage(choice.Message),
			FinishReason: choice.FinishReason,
			Usage: schemas.Usage{
				PromptTokens:     responsePayload.Usage.PromptTokens,
				CompletionTokens: responsePayload.Usage.CompletionTokens,
			},
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *OpenAIClient) buildRequestPayload(req schemas.ChatRequest) (openAIRequestPayload, error) {
	payload := openAIRequestPayload{
		Model:       c.config.Model,
		Messages:    make([]openAIMessage, 0, len(req.Messages)),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	for _, m := range req.Messages {
		msg, err := toOpenAIMessage(m)
		if err != nil {
			return openAIRequestPayload{}, err
		}
		payload.Messages = append(payload.Messages, msg)
	}

	for _, def := range req.Tools {
		payload.Tools = append(payload.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	if len(payload.Tools) > 0 {
		choice := req.ToolChoice
		if choice == "" {
			choice = schemas.ToolChoiceAuto
		}
		payload.ToolChoice = string(choice)
	}
	return payload, nil
}

func toOpenAIMessage(m schemas.Message) (openAIMessage, error) {
	msg := openAIMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
	}

	switch {
	case len(m.Images) > 0:
		parts := make([]openAIContentPart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, openAIContentPart{Type: "text", Text: m.Content})
		}
		for _, img := range m.Images {
			if !strings.HasPrefix(string(img), "data:") {
				return openAIMessage{}, fmt.Errorf("image attachment on %s message is not a data URI", m.Role)
			}
			parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: string(img)}})
		}
		msg.Content = parts
	case m.Content != "" || len(m.ToolCalls) == 0:
		msg.Content = m.Content
	}

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: openAIFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return msg, nil
}

func convertOpenAIMessage(m openAIResponseMessage) schemas.Message {
	msg := schemas.Message{Role: schemas.RoleAssistant}
	if m.Content != nil {
		msg.Content = *m.Content
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schemas.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg
}

func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("OpenAI API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := &APIError{Provider: "openai", StatusCode: statusCode, Body: string(body)}

	if isTransientStatus(statusCode) {
		return err
	}
	return backoff.Permanent(err)
}
