package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON means no candidate span of the model's reply parsed as a JSON
// object, even after repair. The caller counts the attempt as retryable.
var ErrNoJSON = errors.New("no parseable JSON object in model response")

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedAnyRe  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")

	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_$]*)\s*:`)
)

// ExtractJSON pulls a JSON object out of free-form model output. Candidate
// spans are tried in order: a ```json fenced block, any fenced block, then
// the widest brace-delimited span. Each candidate gets two repairs before
// the final parse: trailing commas are stripped and bare identifier keys are
// quoted.
func ExtractJSON(text string) (map[string]any, error) {
	for _, candidate := range candidates(text) {
		if out, ok := parseRepaired(candidate); ok {
			return out, nil
		}
	}
	return nil, ErrNoJSON
}

func candidates(text string) []string {
	var spans []string
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		spans = append(spans, m[1])
	}
	if m := fencedAnyRe.FindStringSubmatch(text); m != nil {
		spans = append(spans, m[1])
	}
	if span := widestBraceSpan(text); span != "" {
		spans = append(spans, span)
	}
	return spans
}

func widestBraceSpan(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func parseRepaired(candidate string) (map[string]any, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, true
	}

	repaired := trailingCommaRe.ReplaceAllString(candidate, "$1")
	repaired = quoteBareKeys(repaired)
	if err := json.Unmarshal([]byte(repaired), &out); err == nil {
		return out, true
	}
	return nil, false
}

// quoteBareKeys rewrites {key: 1} to {"key": 1}, skipping spans inside
// string literals so values like "a,b: c" survive.
func quoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	segStart := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
				b.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if ch == '"' {
			b.WriteString(bareKeyRe.ReplaceAllString(s[segStart:i], `$1"$2":`))
			segStart = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		b.WriteString(bareKeyRe.ReplaceAllString(s[segStart:], `$1"$2":`))
	}
	return b.String()
}

// missingField returns the first required top-level key absent from out, or
// "" when all are present.
func missingField(out map[string]any, required []string) string {
	for _, field := range required {
		if _, ok := out[field]; !ok {
			return field
		}
	}
	return ""
}
