package observability

import (
	"regexp"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"go.uber.org/zap"
)

// ImagePlaceholder replaces image payloads in diagnostic output.
const ImagePlaceholder = "[image redacted]"

var dataURIPattern = regexp.MustCompile(`data:image/[A-Za-z0-9.+-]+;base64,[A-Za-z0-9+/=_-]*`)

// RedactDataURIs replaces every embedded image data URI in s with ImagePlaceholder.
// It is safe to apply to raw request bodies.
func RedactDataURIs(s string) string {
	return dataURIPattern.ReplaceAllString(s, ImagePlaceholder)
}

// RedactMessages returns a copy of msgs with image attachments replaced by
// ImagePlaceholder and any inline data URIs in text stripped.
func RedactMessages(msgs []schemas.Message) []schemas.Message {
	out := make([]schemas.Message, len(msgs))
	for i, m := range msgs {
		m.Content = RedactDataURIs(m.Content)
		if len(m.Images) > 0 {
			images := make([]schemas.ScreenshotHandle, len(m.Images))
			for j := range images {
				images[j] = ImagePlaceholder
			}
			m.Images = images
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]schemas.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				tc.Arguments = RedactDataURIs(tc.Arguments)
				calls[j] = tc
			}
			m.ToolCalls = calls
		}
		out[i] = m
	}
	return out
}

// Transcript is a zap field carrying a redacted conversation.
func Transcript(key string, msgs []schemas.Message) zap.Field {
	return zap.Any(key, RedactMessages(msgs))
}
