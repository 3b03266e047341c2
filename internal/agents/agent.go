// Package agents defines the fifteen editorial and asset generation agents
// as one data-driven table. Each entry owns its prompt, temperature regime,
// schema contract and persist suffix; a single executor drives them all
// through the model call layer and the object store.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bookforge/internal/domain"
	"bookforge/internal/llm"
	"bookforge/internal/storage"
)

// Inputs carries everything a prompt builder may draw on. Which fields are
// populated depends on the agent: editorial agents get the manuscript
// excerpt, asset agents get the developmental analysis and whatever
// auxiliary data the job supplied.
type Inputs struct {
	Genre         string
	StyleGuide    string
	Excerpt       string
	Developmental map[string]any
	AuthorData    map[string]any
	SeriesData    map[string]any
	// Dependencies holds other agents' persisted outputs, keyed by agent
	// name. Only the audiobook metadata agent receives these, best-effort.
	Dependencies map[string]map[string]any
}

// Spec is one agent's capability record.
type Spec struct {
	// Name is the canonical agent name, also the field name in the
	// combined asset bundle.
	Name string
	// Suffix is appended to the manuscript key to form the artifact key.
	Suffix string
	// Temperature is one of the llm.Temp* presets.
	Temperature float64
	MaxTokens   int
	// Window is how many runes of manuscript text the agent wants in its
	// excerpt; 0 means the agent does not read the manuscript.
	Window         int
	RequiredFields []string
	BuildPrompt    func(in Inputs) string
	// Normalize mutates the parsed output before validation: truncations,
	// deterministic recomputation, warn-only checks.
	Normalize func(in Inputs, out map[string]any, logger zerolog.Logger)
	// Validate enforces hard schema rules beyond required fields. Errors
	// are retried by the call layer and become terminal when persistent.
	Validate func(in Inputs, out map[string]any) error
}

// ArtifactKey returns the object store key this agent persists to for the
// given manuscript.
func (s Spec) ArtifactKey(manuscriptKey string) string {
	return manuscriptKey + s.Suffix
}

// Runner executes one agent: prompt → model call → persisted artifact.
type Runner struct {
	llm    *llm.Client
	store  storage.BlobStore
	logger zerolog.Logger
}

func NewRunner(client *llm.Client, store storage.BlobStore, logger zerolog.Logger) *Runner {
	return &Runner{llm: client, store: store, logger: logger}
}

// Run drives spec to a terminal outcome. The returned map is the validated,
// normalized object that was persisted; errors are always terminal from the
// caller's point of view.
func (r *Runner) Run(ctx context.Context, spec Spec, manuscriptKey, reportID, operationGroup string, in Inputs) (map[string]any, error) {
	userID, manuscriptID := domain.OwnerFromKey(manuscriptKey)

	req := llm.Request{
		Prompt:         spec.BuildPrompt(in),
		Temperature:    spec.Temperature,
		MaxTokens:      spec.MaxTokens,
		RequiredFields: spec.RequiredFields,
		Caller: llm.Caller{
			Agent:          spec.Name,
			UserID:         userID,
			ManuscriptID:   manuscriptID,
			OperationGroup: operationGroup,
			Operation:      "generate",
		},
	}
	if spec.Normalize != nil || spec.Validate != nil {
		req.Validate = func(out map[string]any) error {
			if spec.Normalize != nil {
				spec.Normalize(in, out, r.logger)
			}
			if spec.Validate != nil {
				return spec.Validate(in, out)
			}
			return nil
		}
	}

	out, err := r.llm.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := r.persist(ctx, spec, manuscriptKey, reportID, out); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("agent", spec.Name).
		Str("manuscript_key", manuscriptKey).
		Str("report_id", reportID).
		Msg("agent: artifact persisted")
	return out, nil
}

// persist writes the artifact, retrying the write once before declaring the
// agent failed.
func (r *Runner) persist(ctx context.Context, spec Spec, manuscriptKey, reportID string, out map[string]any) error {
	key := spec.ArtifactKey(manuscriptKey)
	meta := map[string]string{"agent": spec.Name, "reportId": reportID}

	err := storage.PutJSON(ctx, r.store, key, out, meta)
	if err == nil {
		return nil
	}
	r.logger.Warn().Err(err).Str("key", key).Msg("agent: artifact write failed, retrying once")

	if err := storage.PutJSON(ctx, r.store, key, out, meta); err != nil {
		var storageErr *domain.StorageError
		if errors.As(err, &storageErr) {
			return err
		}
		return &domain.StorageError{Key: key, Err: err}
	}
	return nil
}

// jsonBlock renders v as indented JSON for prompt embedding.
func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil || string(data) == "null" {
		return "{}"
	}
	return string(data)
}

// numberAt walks a nested map along path and returns the numeric leaf.
func numberAt(m map[string]any, path ...string) (float64, bool) {
	var cur any = m
	for _, p := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		cur, ok = node[p]
		if !ok {
			return 0, false
		}
	}
	switch n := cur.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func fmtCount(n int, singular string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}
