package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/automate-cli/api/schemas"
	"go.uber.org/zap/zaptest"
)

const planShot = schemas.ScreenshotHandle("data:image/jpeg;base64,aG9tZQ==")

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "plain xml",
			reply: "<task><subtask>Open Settings app</subtask><subtask>Toggle Bluetooth</subtask></task>",
			want:  []string{"Open Settings app", "Toggle Bluetooth"},
		},
		{
			name:  "fenced and indented",
			reply: "```xml\n<task>\n  <subtask>\n    Open   the browser\n  </subtask>\n  <subtask>Search for weather</subtask>\n</task>\n```",
			want:  []string{"Open the browser", "Search for weather"},
		},
		{
			name:  "prose around the document",
			reply: "Here is the plan:\n<task><subtask>Open maps.google.com</subtask><subtask>Search nearest cafe</subtask></task>\nGood luck!",
			want:  []string{"Open maps.google.com", "Search nearest cafe"},
		},
		{
			name:  "nested markup is flattened",
			reply: "<task><subtask>Tap <b>Send</b> button</subtask></task>",
			want:  []string{"Tap Send button"},
		},
		{
			name:  "empty subtasks are dropped",
			reply: "<task><subtask> </subtask><subtask>Open Settings</subtask></task>",
			want:  []string{"Open Settings"},
		},
		{
			name:  "malformed xml falls back to the pattern scan",
			reply: "<task><subtask>Open Settings app</subtask><subtask>Toggle Bluetooth & Wi-Fi</subtask>",
			want:  []string{"Open Settings app", "Toggle Bluetooth & Wi-Fi"},
		},
		{
			name:  "fallback is case-insensitive",
			reply: "<Plan><SUBTASK>Open Settings</SUBTASK><SubTask>Tap Display</SubTask></Plan>",
			want:  []string{"Open Settings", "Tap Display"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePlan(tt.reply)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parsePlan() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsePlan_NoSubtasks(t *testing.T) {
	for _, reply := range []string{
		"",
		"I cannot help with that.",
		"<task></task>",
		"<task><step>Open Settings</step></task>",
	} {
		_, err := parsePlan(reply)
		assert.ErrorIs(t, err, ErrPlanningFailed, "reply %q", reply)
	}
}

func TestPlanner_Plan(t *testing.T) {
	ctx := context.Background()
	client := new(MockChatClient)
	client.On("Chat", ctx, mock.MatchedBy(func(req schemas.ChatRequest) bool {
		return len(req.Messages) == 2 &&
			req.Messages[0].Role == schemas.RoleSystem &&
			req.Messages[1].Role == schemas.RoleUser &&
			len(req.Messages[1].Images) == 1 && req.Messages[1].Images[0] == planShot &&
			len(req.Tools) == 0
	})).Return(&schemas.ChatResponse{Message: schemas.Message{
		Role:    schemas.RoleAssistant,
		Content: "<task><subtask>Open Settings app</subtask><subtask>Toggle Bluetooth</subtask></task>",
	}}, nil).Once()

	planner := NewPlanner(client, zaptest.NewLogger(t), nil)
	got, err := planner.Plan(ctx, "Turn on Bluetooth", planShot)
	require.NoError(t, err)
	assert.Equal(t, []string{"Open Settings app", "Toggle Bluetooth"}, got)
	client.AssertNumberOfCalls(t, "Chat", 1)
}

func TestPlanner_PromptCarriesTaskAndCatalog(t *testing.T) {
	client := &scriptedChatClient{replies: []scriptedReply{textReply("<task><subtask>Open Settings</subtask></task>")}}
	planner := NewPlanner(client, zaptest.NewLogger(t), nil)

	_, err := planner.Plan(context.Background(), "Turn on Bluetooth", planShot)
	require.NoError(t, err)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	user := reqs[0].Messages[1].Content
	assert.Contains(t, user, "Turn on Bluetooth")
	assert.Contains(t, user, "- open_link: ")
	assert.Contains(t, reqs[0].Messages[0].Content, "<subtask>")
}

func TestPlanner_Failures(t *testing.T) {
	t.Run("unparseable reply is not retried", func(t *testing.T) {
		client := &scriptedChatClient{replies: []scriptedReply{textReply("Sure! First open settings, then tap Bluetooth.")}}
		planner := NewPlanner(client, zaptest.NewLogger(t), nil)

		_, err := planner.Plan(context.Background(), "Turn on Bluetooth", planShot)
		assert.ErrorIs(t, err, ErrPlanningFailed)
		assert.Len(t, client.Requests(), 1)
	})

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("connection reset")
		client := &scriptedChatClient{replies: []scriptedReply{{err: boom}}}
		planner := NewPlanner(client, zaptest.NewLogger(t), nil)

		_, err := planner.Plan(context.Background(), "Turn on Bluetooth", planShot)
		var transport *TransportError
		require.ErrorAs(t, err, &transport)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrPlanningFailed)
	})
}
