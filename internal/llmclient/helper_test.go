package llmclient

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
)

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig(provider config.LLMProvider) config.LLMConfig {
	return config.LLMConfig{
		Provider:          provider,
		APIKey:            "test-api-key",
		Model:             "test-model",
		APITimeout:        5 * time.Second,
		Temperature:       0.2,
		MaxTokens:         512,
		RequestsPerSecond: 100,
		RetryMaxElapsed:   5 * time.Second,
	}
}

// fastBackoff keeps retry tests quick.
func fastBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

var testShotBytes = []byte("jpeg-bytes")

func testShot() schemas.ScreenshotHandle {
	return schemas.ScreenshotHandle("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(testShotBytes))
}

// createTestRequest mirrors one executor step: a system prompt, the subtask
// with a screenshot, a tool call and its answer.
func createTestRequest() schemas.ChatRequest {
	return schemas.ChatRequest{
		Messages: []schemas.Message{
			{Role: schemas.RoleSystem, Content: "You operate a phone."},
			{Role: schemas.RoleUser, Content: "Subtask: Open Settings", Images: []schemas.ScreenshotHandle{testShot()}},
			{Role: schemas.RoleAssistant, ToolCalls: []schemas.ToolCall{
				{ID: "call_1", Name: "touch", Arguments: `{"x":0.5,"y":0.25}`},
			}},
			{Role: schemas.RoleTool, ToolCallID: "call_1", Name: "touch", Content: "Touched (540, 480) 1 time(s)."},
		},
		Tools: []schemas.ToolDefinition{
			{
				Name:        "touch",
				Description: "Tap the screen.",
				Parameters: &schemas.ParameterSchema{
					Type: "object",
					Properties: map[string]*schemas.ParameterSchema{
						"x": {Type: "number", Description: "Horizontal position in [0,1]."},
						"y": {Type: "number", Description: "Vertical position in [0,1]."},
					},
					Required: []string{"x", "y"},
				},
			},
		},
		ToolChoice: schemas.ToolChoiceAuto,
	}
}
