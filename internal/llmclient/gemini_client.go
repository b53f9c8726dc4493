// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/observability"
)

// GeminiClient implements schemas.ChatClient for Google Gemini models.
type GeminiClient struct {
	client         *genai.Client
	model          string
	config         config.LLMConfig
	limiter        *rate.Limiter
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

var _ schemas.ChatClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model is required")
	}

	clientConfig := &genai.ClientConfig{
		Backend:    genai.BackendGeminiAPI,
		APIKey:     cfg.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		model:          cfg.Model,
		config:         cfg,
		limiter:        newLimiter(cfg.RequestsPerSecond),
		logger:         logger.Named("llm_client.gemini"),
		backoffFactory: defaultBackoff(cfg.RetryMaxElapsed),
	}, nil
}

// Chat sends the conversation to GenerateContent with retries.
func (c *GeminiClient) Chat(ctx context.Context, req schemas.ChatRequest) (*schemas.ChatResponse, error) {
	contents, genConfig, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	if ce := c.logger.Check(zap.DebugLevel, "Sending generate content request"); ce != nil {
		ce.Write(observability.Transcript("messages", req.Messages))
	}

	var result *schemas.ChatResponse

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
		duration := time.Since(startTime)
		if err != nil {
			return c.handleAPIError(ctx, err)
		}

		if len(resp.Candidates) == 0 {
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", resp.PromptFeedback.BlockReason))
			}
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
		}

		var usage schemas.Usage
		if resp.UsageMetadata != nil {
			usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		c.logger.Info("LLM generation complete (Gemini)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens),
		)

		msg, err := convertGeminiContent(candidate.Content)
		if err != nil {
			return backoff.Permanent(err)
		}
		result = &schemas.ChatResponse{
			Message:      msg,
			FinishReason: string(candidate.FinishReason),
			Usage:        usage,
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *GeminiClient) buildRequest(req schemas.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.config.Temperature),
	}
	if c.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(c.config.MaxTokens)
	}

	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range req.Messages {
		switch m.Role {
		case schemas.RoleSystem:
			system = append(system, m.Content)
		case schemas.RoleAssistant:
			content, err := geminiModelContent(m)
			if err != nil {
				return nil, nil, err
			}
			contents = append(contents, content)
		case schemas.RoleTool:
			parts, err := geminiToolParts(m)
			if err != nil {
				return nil, nil, err
			}
			// Consecutive responses answer one model turn and travel together.
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			} else {
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
			}
		default:
			parts, err := geminiUserParts(m)
			if err != nil {
				return nil, nil, err
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
		}
	}
	if len(system) > 0 {
		genConfig.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toGeminiSchema(def.Parameters),
			})
		}
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		mode := genai.FunctionCallingConfigModeAuto
		if req.ToolChoice == schemas.ToolChoiceNone {
			mode = genai.FunctionCallingConfigModeNone
		}
		genConfig.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}
	return contents, genConfig, nil
}

func geminiUserParts(m schemas.Message) ([]*genai.Part, error) {
	var parts []*genai.Part
	if m.Content != "" {
		parts = append(parts, genai.NewPartFromText(m.Content))
	}
	for _, img := range m.Images {
		mime, data, err := img.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to attach image: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(" "))
	}
	return parts, nil
}

func geminiModelContent(m schemas.Message) (*genai.Content, error) {
	content := &genai.Content{Role: genai.RoleModel}
	if m.Content != "" {
		content.Parts = append(content.Parts, genai.NewPartFromText(m.Content))
	}
	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tool call %s has malformed arguments: %w", tc.ID, err)
			}
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
		})
	}
	if len(content.Parts) == 0 {
		content.Parts = append(content.Parts, genai.NewPartFromText(" "))
	}
	return content, nil
}

func geminiToolParts(m schemas.Message) ([]*genai.Part, error) {
	parts := []*genai.Part{{
		FunctionResponse: &genai.FunctionResponse{
			ID:       m.ToolCallID,
			Name:     m.Name,
			Response: map[string]any{"output": m.Content},
		},
	}}
	for _, img := range m.Images {
		mime, data, err := img.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to attach image: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}
	return parts, nil
}

func isFunctionResponseTurn(c *genai.Content) bool {
	return c.Role == genai.RoleUser && len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

func toGeminiSchema(s *schemas.ParameterSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Required:    s.Required,
		Items:       toGeminiSchema(s.Items),
		Default:     s.Default,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	return out
}

func convertGeminiContent(content *genai.Content) (schemas.Message, error) {
	msg := schemas.Message{Role: schemas.RoleAssistant}
	var text []string
	for i, part := range content.Parts {
		if part.Thought {
			continue
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return schemas.Message{}, fmt.Errorf("failed to encode arguments of %s: %w", fc.Name, err)
			}
			if fc.Args == nil {
				args = []byte("{}")
			}
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			msg.ToolCalls = append(msg.ToolCalls, schemas.ToolCall{ID: id, Name: fc.Name, Arguments: string(args)})
		}
	}
	msg.Content = strings.Join(text, "")
	return msg, nil
}

func (c *GeminiClient) handleAPIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}

	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	default:
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return fmt.Errorf("failed to execute Gemini request: %w", err)
	}

	c.logger.Error("Gemini API returned error status", zap.Int("status", status), zap.Error(err))
	wrapped := fmt.Errorf("gemini API error: status %d: %w", status, err)
	if isTransientStatus(status) {
		return wrapped
	}
	return backoff.Permanent(wrapped)
}
