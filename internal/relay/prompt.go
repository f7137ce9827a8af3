package relay

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	maxContextItems   = 10
	maxNestedJSONLen  = 100
	maxListPreview    = 3
	defaultBasePrompt = "You are a helpful assistant."
)

// BuildSystemPrompt appends a CURRENT CONTEXT block to base when the
// request or the enrichment step supplied anything worth saying. Keys are
// emitted in sorted order so the same context always gives the same prompt.
func BuildSystemPrompt(base string, requestCtx map[string]any, enrichment map[string]string) string {
	if strings.TrimSpace(base) == "" {
		base = defaultBasePrompt
	}
	lines := formatRequestContext(requestCtx)
	lines = append(lines, formatEnrichment(enrichment)...)
	if len(lines) == 0 {
		return base
	}
	return base + "\n\nCURRENT CONTEXT:\n" + strings.Join(lines, "\n") + "\n"
}

func formatRequestContext(ctx map[string]any) []string {
	if len(ctx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	count := 0
	for i, k := range keys {
		if count >= maxContextItems {
			lines = append(lines, fmt.Sprintf("... and %d more context items", len(keys)-i))
			break
		}
		v, ok := formatValue(ctx[k])
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", titleKey(k), v))
		count++
	}
	return lines
}

func formatValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool, float64, float32, int, int64, json.Number:
		return fmt.Sprint(x), true
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		s := string(b)
		if len(s) > maxNestedJSONLen {
			s = s[:maxNestedJSONLen] + "..."
		}
		return s, true
	case []any:
		if len(x) == 0 {
			return "", false
		}
		head := x
		if len(head) > maxListPreview {
			head = head[:maxListPreview]
		}
		parts := make([]string, 0, len(head))
		for _, item := range head {
			s, ok := item.(string)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		preview := strings.Join(parts, ", ")
		if len(x) > maxListPreview {
			preview += fmt.Sprintf(" (+%d more)", len(x)-maxListPreview)
		}
		return preview, true
	}
	return "", false
}

func formatEnrichment(info map[string]string) []string {
	if len(info) == 0 {
		return nil
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(info[k]) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", titleKey(k), info[k]))
	}
	return lines
}

// titleKey turns snake_case into Title Case.
func titleKey(k string) string {
	words := strings.Fields(strings.ReplaceAll(k, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		words[i] = strings.ToUpper(string(r[:1])) + string(r[1:])
	}
	return strings.Join(words, " ")
}

// userPrompt is the retained transcript followed by the new message.
func userPrompt(transcript, message string) string {
	return transcript + message
}
