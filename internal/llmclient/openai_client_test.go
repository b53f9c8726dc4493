package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/observability"
)

// -- Test Setup Helpers --

// setupOpenAIClient points an OpenAIClient at a mock HTTP server.
func setupOpenAIClient(t *testing.T, level zap.AtomicLevel, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(level)
	cfg := getValidLLMConfig(config.ProviderOpenAI)
	cfg.Endpoint = server.URL + "/v1"

	client, err := NewOpenAIClient(cfg, zap.New(loggerCore))
	require.NoError(t, err, "NewOpenAIClient initialization failed")
	client.httpClient.Timeout = 5 * time.Second
	client.backoffFactory = fastBackoff

	t.Cleanup(server.Close)
	return client, server, observedLogs
}

func writeOpenAIResponse(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// -- Test Cases: Initialization --

func TestNewOpenAIClient(t *testing.T) {
	t.Run("applies the default base URL", func(t *testing.T) {
		cfg := getValidLLMConfig(config.ProviderOpenAI)
		client, err := NewOpenAIClient(cfg, setupTestLogger(t))
		require.NoError(t, err)
		assert.Equal(t, "https://api.openai.com/v1/chat/completions", client.endpoint)
		assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
		assert.NotNil(t, client.backoffFactory)
	})

	t.Run("trims a trailing slash from the endpoint", func(t *testing.T) {
		cfg := getValidLLMConfig(config.ProviderOpenAI)
		cfg.Endpoint = "http://localhost:8080/v1/"
		client, err := NewOpenAIClient(cfg, setupTestLogger(t))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/v1/chat/completions", client.endpoint)
	})

	t.Run("requires an API key", func(t *testing.T) {
		cfg := getValidLLMConfig(config.ProviderOpenAI)
		cfg.APIKey = ""
		client, err := NewOpenAIClient(cfg, setupTestLogger(t))
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "OpenAI API Key is required")
	})
}

// -- Test Cases: Request Payload --

func TestOpenAIBuildRequestPayload(t *testing.T) {
	client, _, _ := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), nil)

	payload, err := client.buildRequestPayload(createTestRequest())
	require.NoError(t, err)

	assert.Equal(t, "test-model", payload.Model)
	assert.Equal(t, "auto", payload.ToolChoice)
	require.Len(t, payload.Tools, 1)
	assert.Equal(t, "function", payload.Tools[0].Type)
	assert.Equal(t, "touch", payload.Tools[0].Function.Name)

	require.Len(t, payload.Messages, 4)
	assert.Equal(t, "You operate a phone.", payload.Messages[0].Content)

	parts, ok := payload.Messages[1].Content.([]openAIContentPart)
	require.True(t, ok, "messages with images use content parts")
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, string(testShot()), parts[1].ImageURL.URL)

	assert.Nil(t, payload.Messages[2].Content, "tool-call-only assistant messages carry null content")
	require.Len(t, payload.Messages[2].ToolCalls, 1)
	assert.Equal(t, `{"x":0.5,"y":0.25}`, payload.Messages[2].ToolCalls[0].Function.Arguments)

	assert.Equal(t, "call_1", payload.Messages[3].ToolCallID)
	assert.Equal(t, "tool", payload.Messages[3].Role)
}

func TestOpenAIBuildRequestPayload_RejectsNonDataURIImages(t *testing.T) {
	client, _, _ := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), nil)
	req := schemas.ChatRequest{Messages: []schemas.Message{
		{Role: schemas.RoleUser, Content: "look", Images: []schemas.ScreenshotHandle{"/tmp/shot.jpg"}},
	}}

	_, err := client.buildRequestPayload(req)
	assert.ErrorContains(t, err, "not a data URI")
}

// -- Test Cases: Chat --

func TestOpenAIChat_Success(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "auto", body["tool_choice"])

		writeOpenAIResponse(w, `{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "end_subtask", "arguments": "{}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 8, "total_tokens": 128}
		}`)
	}
	client, _, observedLogs := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), handler)

	resp, err := client.Chat(context.Background(), createTestRequest())
	require.NoError(t, err)

	assert.Equal(t, schemas.RoleAssistant, resp.Message.Role)
	assert.Empty(t, resp.Message.Content)
	assert.Equal(t, []schemas.ToolCall{{ID: "call_9", Name: "end_subtask", Arguments: "{}"}}, resp.Message.ToolCalls)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, schemas.Usage{PromptTokens: 120, CompletionTokens: 8}, resp.Usage)

	require.Equal(t, 1, observedLogs.Len())
	logEntry := observedLogs.All()[0]
	assert.Equal(t, "LLM generation complete (OpenAI)", logEntry.Message)
	assert.Equal(t, int64(120), logEntry.ContextMap()["prompt_tokens"])
}

func TestOpenAIChat_DebugPayloadIsRedacted(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		writeOpenAIResponse(w, `{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}
	client, _, observedLogs := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.DebugLevel), handler)

	resp, err := client.Chat(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)

	debugLogs := observedLogs.FilterMessage("Sending chat completion request").All()
	require.Len(t, debugLogs, 1)
	payload, ok := debugLogs[0].ContextMap()["payload"].(string)
	require.True(t, ok)
	assert.Contains(t, payload, observability.ImagePlaceholder)
	assert.NotContains(t, payload, "base64,")
}

func TestOpenAIChat_RetryOnTransientErrors(t *testing.T) {
	var attemptCounter int32
	expectedAttempts := 3

	handler := func(w http.ResponseWriter, r *http.Request) {
		if int(atomic.AddInt32(&attemptCounter, 1)) < expectedAttempts {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limited"))
			return
		}
		writeOpenAIResponse(w, `{"choices":[{"message":{"role":"assistant","content":"Success after retry"},"finish_reason":"stop"}]}`)
	}
	client, _, observedLogs := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), handler)

	resp, err := client.Chat(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "Success after retry", resp.Message.Content)
	assert.Equal(t, int32(expectedAttempts), atomic.LoadInt32(&attemptCounter))
	assert.Equal(t, expectedAttempts-1, observedLogs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestOpenAIChat_NoRetryOnPermanentErrors(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Incorrect API key provided"))
	}
	client, _, _ := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), handler)

	_, err := client.Chat(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Incorrect API key")
}

func TestOpenAIChat_RetryOnNetworkError(t *testing.T) {
	client, server, observedLogs := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler reached despite server being closed.")
	})
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := client.Chat(ctx, createTestRequest())
	require.Error(t, err)

	var permanentErr *backoff.PermanentError
	assert.False(t, errors.As(err, &permanentErr), "Network errors should be treated as transient and retried")

	warnLogs := observedLogs.FilterLevelExact(zap.WarnLevel)
	assert.Greater(t, warnLogs.Len(), 1)
	assert.Equal(t, "Network error during LLM request, retrying...", warnLogs.All()[0].Message)
}

func TestOpenAIChat_EmptyChoicesIsPermanent(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		writeOpenAIResponse(w, `{"choices":[]}`)
	}
	client, _, _ := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), handler)

	_, err := client.Chat(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "no choices")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter))
}

func TestOpenAIChat_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	handler := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	client, _, _ := setupOpenAIClient(t, zap.NewAtomicLevelAt(zap.InfoLevel), handler)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Chat(ctx, createTestRequest())
	assert.ErrorIs(t, err, context.Canceled)
}
