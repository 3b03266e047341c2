package agents

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"bookforge/internal/domain"
	"bookforge/internal/llm"
)

// Canonical asset agent names. Each is both the bundle field and the
// artifact key suffix base.
const (
	AgentDescription       = "description"
	AgentKeywords          = "keywords"
	AgentCategories        = "categories"
	AgentAuthorBio         = "authorBio"
	AgentBackMatter        = "backMatter"
	AgentCoverBrief        = "coverBrief"
	AgentSeriesDescription = "seriesDescription"
	AgentAudioNarration    = "audiobookNarration"
	AgentAudioPronounce    = "audiobookPronunciation"
	AgentAudioTiming       = "audiobookTiming"
	AgentAudioSamples      = "audiobookSamples"
	AgentAudioMetadata     = "audiobookMetadata"
)

const (
	maxKeywordLen      = 50
	keywordCount       = 7
	maxLongDescription = 4_000
	minSeriesArc       = 3

	excerptWindow       = 3_000
	pronunciationWindow = 30_000
	samplesWindow       = 10_000

	// narrationWordsPerHour is the industry planning rate for audiobook
	// length estimates.
	narrationWordsPerHour = 9_300
)

var bisacCodeRe = regexp.MustCompile(`^[A-Z]{3}\d{6}$`)

// Assets returns the twelve asset agents. Order carries no scheduling
// meaning; the orchestrator launches all of them concurrently.
func Assets() []Spec {
	return []Spec{
		descriptionSpec(),
		keywordsSpec(),
		categoriesSpec(),
		authorBioSpec(),
		backMatterSpec(),
		coverBriefSpec(),
		seriesDescriptionSpec(),
		audioNarrationSpec(),
		audioPronunciationSpec(),
		audioTimingSpec(),
		audioSamplesSpec(),
		audioMetadataSpec(),
	}
}

// AssetSpec looks up one asset agent by canonical name.
func AssetSpec(name string) (Spec, bool) {
	for _, spec := range Assets() {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

func descriptionSpec() Spec {
	return Spec{
		Name:           AgentDescription,
		Suffix:         "-description.json",
		Temperature:    llm.TempBalanced,
		MaxTokens:      4096,
		Window:         excerptWindow,
		RequiredFields: []string{"short", "medium", "long", "hooks"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are a book marketing copywriter. Write retail descriptions for a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "short": ~50 word description
- "medium": ~150 word description
- "long": 300-500 word retail description suitable for an Amazon listing
- "hooks": array of 3 one-line hooks for ads

`)
			fmt.Fprintf(&b, "DEVELOPMENTAL ANALYSIS:\n%s\n\n", devSummary(in))
			fmt.Fprintf(&b, "OPENING EXCERPT:\n%s\n", in.Excerpt)
			return b.String()
		},
		Normalize: normalizeDescription,
	}
}

// normalizeDescription caps the long form at the retail limit: anything over
// 4,000 characters becomes 3,997 + ellipsis.
func normalizeDescription(_ Inputs, out map[string]any, _ zerolog.Logger) {
	long, ok := out["long"].(string)
	if !ok {
		return
	}
	runes := []rune(long)
	if len(runes) > maxLongDescription {
		out["long"] = string(runes[:maxLongDescription-3]) + "..."
	}
}

func keywordsSpec() Spec {
	return Spec{
		Name:           AgentKeywords,
		Suffix:         "-keywords.json",
		Temperature:    llm.TempPrecise,
		MaxTokens:      1024,
		RequiredFields: []string{"keywords"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are a KDP metadata specialist. Choose search keywords for a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "keywords": array of EXACTLY 7 search phrases, each 50 characters or fewer, no quotation marks, ordered by expected search volume

Avoid the genre name alone, the author's name, and subjective claims like "best".

`)
			fmt.Fprintf(&b, "DEVELOPMENTAL ANALYSIS:\n%s\n", devSummary(in))
			return b.String()
		},
		Normalize: normalizeKeywords,
		Validate:  validateKeywords,
	}
}

// normalizeKeywords trims whitespace and truncates any phrase over the
// 50-character retail limit.
func normalizeKeywords(_ Inputs, out map[string]any, _ zerolog.Logger) {
	items, ok := out["keywords"].([]any)
	if !ok {
		return
	}
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if runes := []rune(s); len(runes) > maxKeywordLen {
			s = string(runes[:maxKeywordLen])
		}
		items[i] = s
	}
	out["keywords"] = items
}

func validateKeywords(_ Inputs, out map[string]any) error {
	items, ok := out["keywords"].([]any)
	if !ok {
		return &domain.SchemaError{Agent: AgentKeywords, Reason: "keywords is not an array"}
	}
	if len(items) != keywordCount {
		return &domain.SchemaError{Agent: AgentKeywords, Reason: fmt.Sprintf("expected exactly %d keywords, got %d", keywordCount, len(items))}
	}
	return nil
}

func categoriesSpec() Spec {
	return Spec{
		Name:           AgentCategories,
		Suffix:         "-categories.json",
		Temperature:    llm.TempPrecise,
		MaxTokens:      2048,
		RequiredFields: []string{"primary", "secondary", "alternatives"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are a book categorization specialist. Assign BISAC categories to a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "primary": { "code": string, "label": string, "reason": string }
- "secondary": { "code": string, "label": string, "reason": string }
- "alternatives": array of 3-5 { "code": string, "label": string } entries

Codes must be real BISAC subject codes (three capital letters followed by six digits, e.g. FIC031000).

`)
			fmt.Fprintf(&b, "DEVELOPMENTAL ANALYSIS:\n%s\n", devSummary(in))
			return b.String()
		},
		Normalize: normalizeCategories,
	}
}

// normalizeCategories logs malformed BISAC codes. Bad codes are kept: a
// human reviews category assignments anyway.
func normalizeCategories(_ Inputs, out map[string]any, logger zerolog.Logger) {
	checkCode := func(entry any) {
		m, ok := entry.(map[string]any)
		if !ok {
			return
		}
		code, ok := m["code"].(string)
		if !ok {
			return
		}
		if !bisacCodeRe.MatchString(code) {
			logger.Warn().Str("code", code).Msg("categories: code does not match BISAC pattern")
		}
	}
	checkCode(out["primary"])
	checkCode(out["secondary"])
	if alts, ok := out["alternatives"].([]any); ok {
		for _, alt := range alts {
			checkCode(alt)
		}
	}
}

func authorBioSpec() Spec {
	return Spec{
		Name:           AgentAuthorBio,
		Suffix:         "-author-bio.json",
		Temperature:    llm.TempCreative,
		MaxTokens:      2048,
		RequiredFields: []string{"short", "medium", "long"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are a publicity copywriter. Write author biographies for the author of a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "short": 1-2 sentence bio for social media
- "medium": ~100 word bio for the book's back cover
- "long": ~250 word bio for the author's website

Write in third person. Do not invent credentials beyond what is supplied.

`)
			fmt.Fprintf(&b, "AUTHOR INFORMATION:\n%s\n\n", jsonBlock(in.AuthorData))
			fmt.Fprintf(&b, "BOOK CONTEXT:\n%s\n", devSummary(in))
			return b.String()
		},
	}
}

func backMatterSpec() Spec {
	return Spec{
		Name:           AgentBackMatter,
		Suffix:         "-back-matter.json",
		Temperature:    llm.TempCreative,
		MaxTokens:      2048,
		RequiredFields: []string{"thankYou", "newsletterCTA", "connect", "closing"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are a book marketing specialist. Write back matter pages for a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "thankYou": a warm thank-you-for-reading message with a review ask
- "newsletterCTA": a newsletter signup pitch with a concrete reader benefit
- "connect": a short section listing ways to follow the author
- "closing": a closing line teasing what is next

Match the book's tone.

`)
			fmt.Fprintf(&b, "AUTHOR INFORMATION:\n%s\n\n", jsonBlock(in.AuthorData))
			fmt.Fprintf(&b, "BOOK CONTEXT:\n%s\n", devSummary(in))
			return b.String()
		},
	}
}

func coverBriefSpec() Spec {
	return Spec{
		Name:           AgentCoverBrief,
		Suffix:         "-cover-brief.json",
		Temperature:    llm.TempCreative,
		MaxTokens:      4096,
		Window:         excerptWindow,
		RequiredFields: []string{"concept", "colorPalette", "aiPrompts"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are an art director preparing a cover design brief for a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "concept": { "visualTheme": string, "mood": string, "focalPoint": string, "typography": string }
- "colorPalette": array of 4-6 { "hex": string, "role": string } entries
- "aiPrompts": array of 3 detailed text-to-image prompt variants for the cover art
- "genreConventions": notes on what covers in this genre signal to buyers

`)
			fmt.Fprintf(&b, "DEVELOPMENTAL ANALYSIS:\n%s\n\n", devSummary(in))
			fmt.Fprintf(&b, "OPENING EXCERPT:\n%s\n", in.Excerpt)
			return b.String()
		},
	}
}

func seriesDescriptionSpec() Spec {
	return Spec{
		Name:           AgentSeriesDescription,
		Suffix:         "-series-description.json",
		Temperature:    llm.TempCreative,
		MaxTokens:      4096,
		RequiredFields: []string{"tagline", "seriesDescription", "bookByBookArc"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are a series planning strategist for %s fiction.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "tagline": one line capturing the whole series
- "seriesDescription": ~200 word description of the series premise
- "bookByBookArc": array of AT LEAST 3 entries { "book": number, "workingTitle": string, "arc": string }
- "throughlines": array of character or plot threads spanning the series

`)
			fmt.Fprintf(&b, "SERIES INFORMATION:\n%s\n\n", jsonBlock(in.SeriesData))
			fmt.Fprintf(&b, "BOOK ONE ANALYSIS:\n%s\n", devSummary(in))
			return b.String()
		},
		Validate: validateSeries,
	}
}

func validateSeries(_ Inputs, out map[string]any) error {
	arc, ok := out["bookByBookArc"].([]any)
	if !ok {
		return &domain.SchemaError{Agent: AgentSeriesDescription, Reason: "bookByBookArc is not an array"}
	}
	if len(arc) < minSeriesArc {
		return &domain.SchemaError{Agent: AgentSeriesDescription, Reason: fmt.Sprintf("bookByBookArc has %d entries, need at least %d", len(arc), minSeriesArc)}
	}
	return nil
}

func audioNarrationSpec() Spec {
	return Spec{
		Name:           AgentAudioNarration,
		Suffix:         "-audiobook-narration.json",
		Temperature:    llm.TempBalanced,
		MaxTokens:      4096,
		RequiredFields: []string{"narratorProfile", "characterVoices"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are an audiobook production director casting a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "narratorProfile": { "gender": string, "ageRange": string, "tone": string, "pace": string, "accent": string }
- "characterVoices": array of { "character": string, "voiceDirection": string } for each speaking character
- "overallDirection": paragraph of performance guidance for the narrator

`)
			fmt.Fprintf(&b, "DEVELOPMENTAL ANALYSIS:\n%s\n", devSummary(in))
			return b.String()
		},
	}
}

func audioPronunciationSpec() Spec {
	return Spec{
		Name:           AgentAudioPronounce,
		Suffix:         "-audiobook-pronunciation.json",
		Temperature:    llm.TempPrecise,
		MaxTokens:      4096,
		Window:         pronunciationWindow,
		RequiredFields: []string{"pronunciations"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			b.WriteString("You are an audiobook pronunciation consultant.\n\n")
			b.WriteString(`Scan the manuscript excerpt for proper nouns, invented terms, foreign words and anything a narrator could mispronounce. Respond with a single JSON object:
- "pronunciations": array of { "term": string, "phonetic": string, "ipa": string, "note": string }

Use plain-English phonetic respelling (e.g. "shuh-VON" for Siobhan) and order by first appearance.

`)
			fmt.Fprintf(&b, "MANUSCRIPT EXCERPT:\n%s\n", in.Excerpt)
			return b.String()
		},
	}
}

func audioTimingSpec() Spec {
	return Spec{
		Name:           AgentAudioTiming,
		Suffix:         "-audiobook-timing.json",
		Temperature:    llm.TempBalanced,
		MaxTokens:      4096,
		RequiredFields: []string{"overallTiming", "chapterTimings"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			b.WriteString("You are an audiobook production planner estimating recording length.\n\n")
			fmt.Fprintf(&b, `Respond with a single JSON object:
- "overallTiming": { "totalListeningMinutes": number, "totalListeningHours": number, "wordsPerHour": number }
- "chapterTimings": array of { "chapter": number, "title": string, "wordCount": number, "estimatedMinutes": number }
- "productionNotes": pacing considerations for this material

Plan at roughly %d words per finished hour.

`, narrationWordsPerHour)
			fmt.Fprintf(&b, "MANUSCRIPT STRUCTURE:\n%s\n", jsonBlock(structureOf(in)))
			return b.String()
		},
		Normalize: normalizeTiming,
		Validate:  validateTiming,
	}
}

// normalizeTiming recomputes every estimate from the manuscript's word
// counts so the artifact is deterministic regardless of what the model
// guessed. Creative output here is confined to productionNotes.
func normalizeTiming(in Inputs, out map[string]any, _ zerolog.Logger) {
	structure := structureOf(in)
	totalWords, _ := numberAt(structure, "totalWords")
	if totalWords <= 0 {
		return
	}

	minutesPerWord := 60.0 / narrationWordsPerHour
	totalMinutes := math.Round(totalWords * minutesPerWord)
	out["overallTiming"] = map[string]any{
		"totalListeningMinutes": totalMinutes,
		"totalListeningHours":   math.Round(totalMinutes/60*10) / 10,
		"wordsPerHour":          narrationWordsPerHour,
	}

	chapters, _ := structure["chapters"].([]any)
	timings := make([]any, 0, len(chapters))
	for _, ch := range chapters {
		chMap, ok := ch.(map[string]any)
		if !ok {
			continue
		}
		words, _ := numberAt(chMap, "wordCount")
		timings = append(timings, map[string]any{
			"chapter":          chMap["number"],
			"title":            chMap["title"],
			"wordCount":        words,
			"estimatedMinutes": math.Round(words * minutesPerWord),
		})
	}
	if len(timings) > 0 {
		out["chapterTimings"] = timings
	}
}

// validateTiming enforces the planning band: the overall estimate must stay
// within ±10% of the 8,500-10,000 words-per-hour industry range.
func validateTiming(in Inputs, out map[string]any) error {
	structure := structureOf(in)
	totalWords, ok := numberAt(structure, "totalWords")
	if !ok || totalWords <= 0 {
		return nil
	}
	totalMinutes, ok := numberAt(out, "overallTiming", "totalListeningMinutes")
	if !ok || totalMinutes <= 0 {
		return &domain.SchemaError{Agent: AgentAudioTiming, Reason: "overallTiming.totalListeningMinutes missing or non-positive"}
	}
	ratio := totalMinutes / 60 / totalWords
	if ratio < 1.0/10_500 || ratio > 1.0/8_000 {
		return &domain.SchemaError{Agent: AgentAudioTiming, Reason: fmt.Sprintf("timing ratio %.6f hours/word outside planning band", ratio)}
	}
	return nil
}

func audioSamplesSpec() Spec {
	return Spec{
		Name:           AgentAudioSamples,
		Suffix:         "-audiobook-samples.json",
		Temperature:    llm.TempBalanced,
		MaxTokens:      4096,
		Window:         samplesWindow,
		RequiredFields: []string{"retailSample", "auditionSamples"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are an audiobook producer selecting sample passages from a %s novel.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "retailSample": { "startMarker": string, "endMarker": string, "approxWords": number, "reason": string } for the ~5 minute retail preview
- "auditionSamples": array of AT LEAST 1 { "startMarker": string, "endMarker": string, "focus": string } passages for narrator auditions
- "avoid": passages that would spoil the plot if sampled

Markers must quote the excerpt verbatim so an engineer can locate them.

`)
			fmt.Fprintf(&b, "MANUSCRIPT EXCERPT:\n%s\n", in.Excerpt)
			return b.String()
		},
	}
}

func audioMetadataSpec() Spec {
	return Spec{
		Name:           AgentAudioMetadata,
		Suffix:         "-audiobook-metadata.json",
		Temperature:    llm.TempBalanced,
		MaxTokens:      4096,
		RequiredFields: []string{"retailMetadata", "acxRequirements"},
		BuildPrompt: func(in Inputs) string {
			var b strings.Builder
			fmt.Fprintf(&b, "You are preparing the ACX/Audible metadata package for a %s audiobook.\n\n", genreOrDefault(in.Genre))
			b.WriteString(`Respond with a single JSON object:
- "retailMetadata": { "title": string, "subtitle": string, "description": string, "categories": [..], "keywords": [..] }
- "acxRequirements": { "contentType": string, "language": string, "explicitContent": boolean, "territories": string }
- "notes": anything the publisher should double-check before submission

`)
			fmt.Fprintf(&b, "DEVELOPMENTAL ANALYSIS:\n%s\n", devSummary(in))
			if len(in.Dependencies) > 0 {
				b.WriteString("\nALREADY GENERATED ASSETS (reuse for consistency):\n")
				for name, doc := range in.Dependencies {
					fmt.Fprintf(&b, "%s:\n%s\n", name, jsonBlock(doc))
				}
			}
			return b.String()
		},
	}
}

// MetadataDependencies names the agents whose persisted outputs the
// audiobook metadata agent reads best-effort after its bootstrap delay.
func MetadataDependencies() []string {
	return []string{AgentDescription, AgentCategories, AgentKeywords}
}

// devSummary renders the parts of the developmental artifact that prompts
// embed: the analysis block plus comp titles.
func devSummary(in Inputs) string {
	if in.Developmental == nil {
		return "{}"
	}
	summary := map[string]any{}
	if analysis, ok := in.Developmental["analysis"]; ok {
		summary["analysis"] = analysis
	}
	if comps, ok := in.Developmental["compTitles"]; ok {
		summary["compTitles"] = comps
	}
	if len(summary) == 0 {
		return jsonBlock(in.Developmental)
	}
	return jsonBlock(summary)
}

func structureOf(in Inputs) map[string]any {
	if in.Developmental == nil {
		return map[string]any{}
	}
	structure, ok := in.Developmental["structure"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return structure
}
