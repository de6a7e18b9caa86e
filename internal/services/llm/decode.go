package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals a model reply into target. Replies wrapped in a
// markdown fence or surrounded by prose are reduced to the outermost object.
func DecodeJSON(content string, target any) error {
	var firstErr error
	for _, candidate := range candidates(content) {
		err := json.Unmarshal([]byte(candidate), target)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		return errors.New("empty payload")
	}
	return fmt.Errorf("%w (payload: %s)", firstErr, summarizePayloadSnippet(content))
}

// NormalizeJSON returns the compact JSON document contained in content.
func NormalizeJSON(content string) (string, error) {
	var raw json.RawMessage
	if err := DecodeJSON(content, &raw); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// candidates lists distinct decode attempts from most to least literal.
func candidates(content string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && (len(out) == 0 || out[len(out)-1] != s) {
			out = append(out, s)
		}
	}
	add(content)
	unfenced := unfence(content)
	add(unfenced)
	start := strings.IndexByte(unfenced, '{')
	end := strings.LastIndexByte(unfenced, '}')
	if start >= 0 && end > start {
		add(unfenced[start : end+1])
	}
	return out
}

func unfence(content string) string {
	body, ok := strings.CutPrefix(strings.TrimSpace(content), "```")
	if !ok {
		return content
	}
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return body
}

// summarizePayloadSnippet collapses whitespace and truncates for error text.
func summarizePayloadSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
