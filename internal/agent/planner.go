// internal/agent/planner.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/llmutil"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"go.uber.org/zap"
)

// Planner turns a free-text task into an ordered list of subtasks with a
// single model request.
type Planner struct {
	client  schemas.ChatClient
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ schemas.Planner = (*Planner)(nil)

// NewPlanner creates a Planner backed by the given model client.
func NewPlanner(client schemas.ChatClient, logger *zap.Logger, metrics *observability.Metrics) *Planner {
	return &Planner{
		client:  client,
		logger:  logger.Named("planner"),
		metrics: metrics,
	}
}

// Plan asks the model for a plan and parses the reply. It never retries:
// a reply without subtasks yields ErrPlanningFailed.
func (p *Planner) Plan(ctx context.Context, task string, screenshot schemas.ScreenshotHandle) ([]string, error) {
	req := schemas.ChatRequest{
		Messages: []schemas.Message{
			{Role: schemas.RoleSystem, Content: plannerSystemPrompt},
			{Role: schemas.RoleUser, Content: plannerUserPrompt(task), Images: imagesOf(screenshot)},
		},
	}
	p.logger.Debug("Requesting plan", observability.Transcript("messages", req.Messages))

	started := time.Now()
	resp, err := p.client.Chat(ctx, req)
	p.metrics.ObserveModelRequest("plan", started, err)
	if err != nil {
		return nil, &TransportError{Code: ErrCodeTransport, Err: err}
	}

	subtasks, err := parsePlan(resp.Message.Content)
	if err != nil {
		p.logger.Warn("Plan reply could not be parsed",
			zap.String("reply", llmutil.Truncate(observability.RedactDataURIs(resp.Message.Content), 500)))
		return nil, err
	}

	p.logger.Info("Plan generated", zap.Int("subtasks", len(subtasks)), zap.Strings("plan", subtasks))
	return subtasks, nil
}

// parsePlan extracts subtasks from a model reply. The reply is parsed as XML
// first; the case-insensitive pattern scan runs when that fails or finds nothing.
func parsePlan(reply string) ([]string, error) {
	subtasks, err := parsePlanXML(reply)
	if err != nil || len(subtasks) == 0 {
		subtasks = llmutil.ExtractTaggedSpans(reply, "subtask")
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("%w: no <subtask> entries in model reply", ErrPlanningFailed)
	}
	for i, s := range subtasks {
		subtasks[i] = normalizeSpace(s)
	}
	return subtasks, nil
}

func parsePlanXML(reply string) ([]string, error) {
	fragment := llmutil.StripCodeFence(reply)
	if el, ok := llmutil.ExtractElement(fragment, "task"); ok {
		fragment = el
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(fragment); err != nil {
		return nil, fmt.Errorf("plan is not well-formed XML: %w", err)
	}
	root := doc.SelectElement("task")
	if root == nil {
		return nil, fmt.Errorf("plan has no <task> root element")
	}

	var subtasks []string
	for _, el := range root.FindElements(".//subtask") {
		if text := strings.TrimSpace(elementText(el)); text != "" {
			subtasks = append(subtasks, text)
		}
	}
	return subtasks, nil
}

// elementText concatenates all character data below el in document order.
func elementText(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			b.WriteString(t.Data)
		case *etree.Element:
			b.WriteString(elementText(t))
		}
	}
	return b.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func imagesOf(h schemas.ScreenshotHandle) []schemas.ScreenshotHandle {
	if h == "" {
		return nil
	}
	return []schemas.ScreenshotHandle{h}
}
