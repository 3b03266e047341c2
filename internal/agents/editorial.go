package agents

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"bookforge/internal/llm"
)

// Canonical editorial agent names. Their artifacts are keyed off the
// manuscript key so re-analysis overwrites in place.
const (
	AgentDevelopmental = "developmental"
	AgentLineEditing   = "lineEditing"
	AgentCopyEditing   = "copyEditing"
)

const (
	defaultWindow       = 10_000
	developmentalWindow = 15_000
	copyEditingWindow   = 50_000
)

// Editorial returns the three editorial agents in their strict execution
// order. The developmental agent runs first because its artifact is the
// structural input for everything downstream.
func Editorial() []Spec {
	return []Spec{developmentalSpec(), lineEditingSpec(), copyEditingSpec()}
}

func developmentalSpec() Spec {
	return Spec{
		Name:        AgentDevelopmental,
		Suffix:      "-analysis.json",
		Temperature: llm.TempBalanced,
		MaxTokens:   8192,
		Window:      developmentalWindow,
		RequiredFields: []string{
			"overallScore", "plot", "characters", "pacing",
			"topPriorities", "marketability", "structure",
		},
		BuildPrompt: buildDevelopmentalPrompt,
		Normalize:   normalizeDevelopmental,
	}
}

func lineEditingSpec() Spec {
	return Spec{
		Name:        AgentLineEditing,
		Suffix:      "-line-analysis.json",
		Temperature: llm.TempPrecise,
		MaxTokens:   8192,
		Window:      defaultWindow,
		RequiredFields: []string{
			"overallScore", "proseQuality", "sentenceVariety", "wordChoice", "topPriorities",
		},
		BuildPrompt: buildLineEditingPrompt,
	}
}

func copyEditingSpec() Spec {
	return Spec{
		Name:        AgentCopyEditing,
		Suffix:      "-copy-analysis.json",
		Temperature: llm.TempPrecise,
		MaxTokens:   8192,
		Window:      copyEditingWindow,
		RequiredFields: []string{
			"errorSummary", "grammar", "punctuation", "consistency", "styleNotes",
		},
		BuildPrompt: buildCopyEditingPrompt,
	}
}

func buildDevelopmentalPrompt(in Inputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior developmental editor reviewing a %s manuscript.\n\n", genreOrDefault(in.Genre))
	b.WriteString(`Assess the big-picture craft of the excerpt below and respond with a single JSON object containing exactly these top-level fields:
- "overallScore": number 1-10
- "plot": { "strengths": [..], "weaknesses": [..], "suggestions": [..] }
- "characters": { "protagonist": string, "supportingCast": string, "arcs": [..] }
- "pacing": { "assessment": string, "slowSections": [..], "suggestions": [..] }
- "topPriorities": array of the 3-5 highest-impact revisions, most important first
- "marketability": { "audience": string, "hookStrength": string, "notes": string }
- "structure": { "totalWords": number, "chapterCount": number, "chapters": [ { "number": number, "title": string, "wordCount": number } ] }
- "compTitles": array of 3-5 comparable published titles with one-line reasons

Estimate totalWords for the complete manuscript from the excerpt's density and any chapter markers. Respond with the JSON object only.

`)
	fmt.Fprintf(&b, "MANUSCRIPT EXCERPT (%s):\n%s\n", fmtCount(CountWords(in.Excerpt), "word"), in.Excerpt)
	return b.String()
}

// normalizeDevelopmental reshapes the model output into the stable artifact
// shape every asset agent consumes: analysis fields grouped under
// "analysis", with "structure" and "compTitles" at top level.
func normalizeDevelopmental(_ Inputs, out map[string]any, _ zerolog.Logger) {
	if _, done := out["analysis"]; done {
		return
	}
	analysis := map[string]any{}
	for _, field := range []string{"overallScore", "plot", "characters", "pacing", "topPriorities", "marketability"} {
		if v, ok := out[field]; ok {
			analysis[field] = v
		}
	}
	out["analysis"] = analysis
	if _, ok := out["compTitles"]; !ok {
		out["compTitles"] = []any{}
	}
}

func buildLineEditingPrompt(in Inputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional line editor working on a %s manuscript.\n\n", genreOrDefault(in.Genre))
	b.WriteString(`Evaluate the prose at sentence and paragraph level and respond with a single JSON object containing exactly these top-level fields:
- "overallScore": number 1-10
- "proseQuality": { "assessment": string, "strengths": [..], "weaknesses": [..] }
- "sentenceVariety": { "assessment": string, "examples": [ { "original": string, "revised": string, "reason": string } ] }
- "wordChoice": { "overusedWords": [..], "weakVerbs": [..], "suggestions": [..] }
- "topPriorities": array of the highest-impact line-level fixes

Quote real sentences from the excerpt in your examples. Respond with the JSON object only.

`)
	fmt.Fprintf(&b, "MANUSCRIPT EXCERPT:\n%s\n", in.Excerpt)
	return b.String()
}

func buildCopyEditingPrompt(in Inputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a copy editor performing a close mechanical pass on a %s manuscript.\n", genreOrDefault(in.Genre))
	if sg := strings.TrimSpace(in.StyleGuide); sg != "" {
		fmt.Fprintf(&b, "Follow the %s style guide.\n", sg)
	} else {
		b.WriteString("Follow the Chicago Manual of Style.\n")
	}
	b.WriteString(`
Respond with a single JSON object containing exactly these top-level fields:
- "errorSummary": { "totalIssues": number, "bySeverity": { "high": number, "medium": number, "low": number } }
- "grammar": array of { "issue": string, "context": string, "correction": string }
- "punctuation": array of { "issue": string, "context": string, "correction": string }
- "consistency": array of spelling/hyphenation/capitalization inconsistencies with locations
- "styleNotes": array of style-guide deviations worth flagging

Only report issues actually present in the excerpt. Respond with the JSON object only.

`)
	fmt.Fprintf(&b, "MANUSCRIPT EXCERPT:\n%s\n", in.Excerpt)
	return b.String()
}

func genreOrDefault(genre string) string {
	genre = strings.TrimSpace(genre)
	if genre == "" {
		return "general fiction"
	}
	return genre
}
