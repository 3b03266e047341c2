package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bookforge/internal/agents"
	"bookforge/internal/domain"
	"bookforge/internal/progress"
	"bookforge/internal/storage"
)

const (
	bundleSuffix   = "-assets.json"
	analysisSuffix = "-analysis.json"

	defaultMetadataDelay = 5 * time.Second
)

// AssetOrchestrator consumes the asset queue and fans one job out to all
// twelve asset agents concurrently. Agent failures are isolated: the run
// always produces a bundle, with nulls where agents failed.
type AssetOrchestrator struct {
	runner   *agents.Runner
	store    storage.BlobStore
	progress *progress.Store
	logger   zerolog.Logger

	metadataDelay time.Duration
}

func NewAssetOrchestrator(runner *agents.Runner, store storage.BlobStore, progressStore *progress.Store, logger zerolog.Logger) *AssetOrchestrator {
	return &AssetOrchestrator{
		runner:        runner,
		store:         store,
		progress:      progressStore,
		logger:        logger,
		metadataDelay: defaultMetadataDelay,
	}
}

// SetMetadataDelay overrides the head start given to the dependency-consuming
// metadata agent.
func (o *AssetOrchestrator) SetMetadataDelay(d time.Duration) {
	if d >= 0 {
		o.metadataDelay = d
	}
}

// HandleMessage adapts Handle to the queue consumer contract.
func (o *AssetOrchestrator) HandleMessage(ctx context.Context, payload []byte) error {
	var job domain.AssetJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode asset job: %w", err)
	}
	return o.Handle(ctx, job)
}

type agentResult struct {
	name string
	out  map[string]any
	err  error
}

// Handle runs one asset generation job. The developmental analysis artifact
// is a hard prerequisite; everything past that point degrades instead of
// aborting. Asset outcomes never touch the manuscript's editorial status.
func (o *AssetOrchestrator) Handle(ctx context.Context, job domain.AssetJob) error {
	logger := o.logger.With().Str("report_id", job.ReportID).Str("manuscript_key", job.ManuscriptKey).Logger()
	logger.Info().Msg("assets: run started")

	var dev map[string]any
	if err := storage.GetJSON(ctx, o.store, job.ManuscriptKey+analysisSuffix, &dev); err != nil {
		cause := fmt.Errorf("%w: developmental analysis unreadable: %v", domain.ErrMissingPrerequisite, err)
		o.fail(ctx, job.ReportID, cause, logger)
		return cause
	}

	// The raw excerpt is an enrichment, not a prerequisite.
	var text string
	if raw, err := o.store.Get(ctx, job.ManuscriptKey); err != nil {
		logger.Warn().Err(err).Msg("assets: manuscript text unavailable, prompts degrade to analysis only")
	} else {
		text = agents.DecodeManuscript(raw)
	}

	specs := agents.Assets()
	states := make(map[string]domain.AgentProgress, len(specs))
	for _, spec := range specs {
		states[spec.Name] = domain.AgentProgress{Status: domain.AgentRunning, Progress: 10}
	}
	// A redelivered job restarts over its own failed record, so this write
	// bypasses the terminal guard.
	if err := o.progress.ResetAsset(ctx, job.ReportID, domain.AssetProgressRecord{
		ProgressRecord: domain.ProgressRecord{
			Status:    domain.ProgressProcessing,
			Progress:  10,
			Message:   "Asset generation in progress",
			Timestamp: time.Now().UTC(),
		},
		Agents: states,
	}); err != nil {
		logger.Warn().Err(err).Msg("assets: progress write failed")
	}

	results := make(chan agentResult, len(specs))
	var wg sync.WaitGroup
	for _, spec := range specs {
		wg.Add(1)
		go func(spec agents.Spec) {
			defer wg.Done()
			in := agents.Inputs{
				Genre:         job.Genre,
				Excerpt:       agents.Window(text, spec.Window),
				Developmental: dev,
				AuthorData:    job.AuthorData,
				SeriesData:    job.SeriesData,
			}
			if spec.Name == agents.AgentAudioMetadata {
				// Head start so freshly written sibling artifacts have a
				// chance to land; any that haven't are simply absent.
				if err := sleepCtx(ctx, o.metadataDelay); err != nil {
					results <- agentResult{name: spec.Name, err: err}
					return
				}
				in.Dependencies = o.loadDependencies(ctx, job.ManuscriptKey, logger)
			}
			out, err := o.runner.Run(ctx, spec, job.ManuscriptKey, job.ReportID, "assets", in)
			results <- agentResult{name: spec.Name, out: out, err: err}
		}(spec)
	}
	wg.Wait()
	close(results)

	bundle := make(map[string]any, len(specs)+1)
	var failures []domain.BundleError
	for res := range results {
		if res.err != nil {
			logger.Error().Err(res.err).Str("agent", res.name).Msg("assets: agent failed")
			bundle[res.name] = nil
			states[res.name] = domain.AgentProgress{Status: domain.AgentFailed, Progress: 0}
			failures = append(failures, domain.BundleError{Type: res.name, Error: res.err.Error()})
			continue
		}
		bundle[res.name] = res.out
		states[res.name] = domain.AgentProgress{Status: domain.AgentComplete, Progress: 100}
	}
	if failures == nil {
		failures = []domain.BundleError{}
	}
	bundle["errors"] = failures

	bundleKey := job.ManuscriptKey + bundleSuffix
	if err := storage.PutJSON(ctx, o.store, bundleKey, bundle, map[string]string{"reportId": job.ReportID}); err != nil {
		cause := fmt.Errorf("persist asset bundle: %w", err)
		o.fail(ctx, job.ReportID, cause, logger)
		return cause
	}

	status := domain.ProgressComplete
	if len(failures) > 0 {
		status = domain.ProgressPartial
	}
	inline, err := json.Marshal(bundle)
	if err != nil {
		logger.Error().Err(err).Msg("assets: bundle marshal for progress record failed")
	}
	now := time.Now().UTC()
	o.writeRecord(ctx, job.ReportID, domain.AssetProgressRecord{
		ProgressRecord: domain.ProgressRecord{
			Status:      status,
			Progress:    100,
			Message:     fmt.Sprintf("Asset generation finished: %d of %d succeeded", len(specs)-len(failures), len(specs)),
			Timestamp:   now,
			CompletedAt: &now,
		},
		Agents: states,
		Assets: inline,
	}, logger)

	logger.Info().Str("status", string(status)).Int("failed", len(failures)).Msg("assets: run complete")
	return nil
}

// loadDependencies reads the sibling artifacts the metadata agent composes
// from. Every miss is tolerated.
func (o *AssetOrchestrator) loadDependencies(ctx context.Context, manuscriptKey string, logger zerolog.Logger) map[string]map[string]any {
	deps := make(map[string]map[string]any)
	for _, name := range agents.MetadataDependencies() {
		spec, ok := agents.AssetSpec(name)
		if !ok {
			continue
		}
		var out map[string]any
		if err := storage.GetJSON(ctx, o.store, spec.ArtifactKey(manuscriptKey), &out); err != nil {
			logger.Debug().Err(err).Str("agent", name).Msg("assets: dependency artifact unavailable")
			continue
		}
		deps[name] = out
	}
	return deps
}

func (o *AssetOrchestrator) fail(ctx context.Context, reportID string, cause error, logger zerolog.Logger) {
	logger.Error().Err(cause).Msg("assets: run failed")
	// Keep the last published progress value in the failed record.
	pct := 0
	var states map[string]domain.AgentProgress
	if rec, err := o.progress.GetAsset(ctx, reportID); err == nil {
		pct = rec.Progress
		states = rec.Agents
	}
	o.writeRecord(ctx, reportID, domain.AssetProgressRecord{
		ProgressRecord: domain.ProgressRecord{
			Status:    domain.ProgressFailed,
			Progress:  pct,
			Message:   "Asset generation failed",
			Timestamp: time.Now().UTC(),
			Error:     cause.Error(),
		},
		Agents: states,
	}, logger)
}

func (o *AssetOrchestrator) writeRecord(ctx context.Context, reportID string, rec domain.AssetProgressRecord, logger zerolog.Logger) {
	if err := o.progress.SetAsset(ctx, reportID, rec); err != nil {
		logger.Warn().Err(err).Msg("assets: progress write failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
