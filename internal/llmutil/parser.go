// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// codeBlockRegex extracts content wrapped in markdown fences, whatever the
// language tag (xml, json, ...). \x60 is a backtick.
var codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

var (
	tagPatternsMu sync.Mutex
	tagPatterns   = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	tagPatternsMu.Lock()
	defer tagPatternsMu.Unlock()
	if re, ok := tagPatterns[tag]; ok {
		return re
	}
	q := regexp.QuoteMeta(tag)
	re := regexp.MustCompile(fmt.Sprintf(`(?is)<%s(?:\s[^>]*)?>(.*?)</%s\s*>`, q, q))
	tagPatterns[tag] = re
	return re
}

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.Contains(content, "```") {
		if matches := codeBlockRegex.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}
	return content
}

// ExtractElement returns the outermost <tag>...</tag> span found in conversational
// text, so that an XML parser is not confused by surrounding prose. The match
// is case-insensitive. ok is false when no opening and closing pair exists.
func ExtractElement(content, tag string) (string, bool) {
	lower := strings.ToLower(content)
	open := strings.Index(lower, "<"+strings.ToLower(tag))
	closing := "</" + strings.ToLower(tag) + ">"
	end := strings.LastIndex(lower, closing)
	if open == -1 || end == -1 || end < open {
		return "", false
	}
	return content[open : end+len(closing)], true
}

// ExtractTaggedSpans returns the trimmed, non-empty inner text of every
// <tag>...</tag> span in content, in order. Matching is case-insensitive and
// does not require the surrounding document to be well formed.
func ExtractTaggedSpans(content, tag string) []string {
	var out []string
	for _, m := range tagPattern(tag).FindAllStringSubmatch(content, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Truncate shortens s to at most maxLen bytes for logging.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
