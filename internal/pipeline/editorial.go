// Package pipeline contains the two queue consumers that drive a manuscript
// through the editorial phases and the asset fan-out, plus the submission
// surface that feeds them.
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
	"bookforge/internal/queuing"
	"bookforge/internal/storage"
)

// StatusUpdater is the slice of the manuscript repository the pipeline
// needs: it only ever mutates the status column.
type StatusUpdater interface {
	UpdateStatusByKey(ctx context.Context, storageKey string, status domain.ManuscriptStatus) error
}

const (
	defaultTickInterval = 2 * time.Second
	tickStep            = 2
)

// band is one phase's progress range: the boundary value published at phase
// start and the ceiling intermediate ticks may not cross.
type band struct {
	start   int
	ceiling int
}

var phaseBands = []band{{5, 30}, {33, 63}, {66, 98}}

var phaseSteps = []string{
	"Developmental analysis",
	"Line editing analysis",
	"Copy editing analysis",
}

// EditorialOrchestrator consumes the analysis queue. One message is one full
// three-phase run; phases execute strictly in order and there are no
// back-edges.
type EditorialOrchestrator struct {
	runner      *agents.Runner
	store       storage.BlobStore
	progress    *progress.Store
	manuscripts StatusUpdater
	assetQueue  queuing.Publisher
	logger      zerolog.Logger

	tickInterval time.Duration
}

func NewEditorialOrchestrator(
	runner *agents.Runner,
	store storage.BlobStore,
	progressStore *progress.Store,
	manuscripts StatusUpdater,
	assetQueue queuing.Publisher,
	logger zerolog.Logger,
) *EditorialOrchestrator {
	return &EditorialOrchestrator{
		runner:       runner,
		store:        store,
		progress:     progressStore,
		manuscripts:  manuscripts,
		assetQueue:   assetQueue,
		logger:       logger,
		tickInterval: defaultTickInterval,
	}
}

// SetTickInterval overrides the intermediate progress tick cadence.
func (o *EditorialOrchestrator) SetTickInterval(d time.Duration) {
	if d > 0 {
		o.tickInterval = d
	}
}

// HandleMessage adapts Handle to the queue consumer contract.
func (o *EditorialOrchestrator) HandleMessage(ctx context.Context, payload []byte) error {
	var job domain.EditorialJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode editorial job: %w", err)
	}
	return o.Handle(ctx, job)
}

// Handle runs the three editorial phases for one job. A returned error
// signals the queue to redeliver; reruns overwrite prior artifacts in place
// because every key derives from the manuscript key.
func (o *EditorialOrchestrator) Handle(ctx context.Context, job domain.EditorialJob) error {
	logger := o.logger.With().Str("report_id", job.ReportID).Str("manuscript_key", job.ManuscriptKey).Logger()
	logger.Info().Msg("editorial: run started")

	o.setManuscriptStatus(ctx, job.ManuscriptKey, domain.ManuscriptAnalyzing, logger)

	raw, err := o.store.Get(ctx, job.ManuscriptKey)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("load manuscript: %w", err), logger)
	}
	text := agents.DecodeManuscript(raw)

	for i, spec := range agents.Editorial() {
		b := phaseBands[i]
		if i == 0 {
			// A redelivered job restarts over its own failed record, so the
			// opening boundary write bypasses the terminal guard.
			if err := o.progress.ResetEditorial(ctx, job.ReportID, domain.ProgressRecord{
				Status:      domain.ProgressProcessing,
				Progress:    b.start,
				Message:     "Editorial analysis in progress",
				CurrentStep: phaseSteps[i],
				Timestamp:   time.Now().UTC(),
			}); err != nil {
				logger.Warn().Err(err).Int("progress", b.start).Msg("editorial: progress write failed")
			}
		} else {
			o.writeProgress(ctx, job.ReportID, domain.ProgressProcessing, b.start, phaseSteps[i], logger)
		}

		in := agents.Inputs{
			Genre:      job.Genre,
			StyleGuide: job.StyleGuide,
			Excerpt:    agents.Window(text, spec.Window),
		}
		if _, err := o.runPhase(ctx, spec, job, in, b, logger); err != nil {
			return o.fail(ctx, job, err, logger)
		}
	}

	now := time.Now().UTC()
	if err := o.progress.SetEditorial(ctx, job.ReportID, domain.ProgressRecord{
		Status:      domain.ProgressComplete,
		Progress:    100,
		Message:     "Editorial analysis complete",
		CurrentStep: "Complete",
		Timestamp:   now,
		CompletedAt: &now,
	}); err != nil {
		logger.Error().Err(err).Msg("editorial: final progress write failed")
	}
	o.setManuscriptStatus(ctx, job.ManuscriptKey, domain.ManuscriptComplete, logger)

	// Asset generation is a best-effort side effect: the editorial
	// artifacts are the contractual output and assets can be re-triggered.
	assetJob := domain.AssetJob{
		ManuscriptKey: job.ManuscriptKey,
		ReportID:      job.ReportID,
		Genre:         job.Genre,
	}
	if err := o.assetQueue.Publish(ctx, assetJob); err != nil {
		logger.Error().Err(err).Msg("editorial: asset job enqueue failed")
	} else {
		logger.Info().Msg("editorial: asset job enqueued")
	}

	logger.Info().Msg("editorial: run complete")
	return nil
}

// runPhase executes one agent while a companion goroutine advances the
// progress record inside the phase's band. The ticker is stopped when the
// agent returns; a tick already in flight lands after the boundary write and
// is absorbed by the ceiling clamp and the terminal-status guard.
func (o *EditorialOrchestrator) runPhase(ctx context.Context, spec agents.Spec, job domain.EditorialJob, in agents.Inputs, b band, logger zerolog.Logger) (map[string]any, error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		current := b.start
		ticker := time.NewTicker(o.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if current+tickStep <= b.ceiling {
					current += tickStep
				}
				o.writeProgress(ctx, job.ReportID, domain.ProgressProcessing, current, spec.Name, logger)
			}
		}
	}()

	out, err := o.runner.Run(ctx, spec, job.ManuscriptKey, job.ReportID, "editorial", in)
	close(done)
	wg.Wait()
	return out, err
}

func (o *EditorialOrchestrator) fail(ctx context.Context, job domain.EditorialJob, cause error, logger zerolog.Logger) error {
	logger.Error().Err(cause).Msg("editorial: run failed")
	// The failed record keeps the last published progress value; progress
	// never moves backwards, not even into failure.
	pct := 0
	if rec, err := o.progress.GetEditorial(ctx, job.ReportID); err == nil {
		pct = rec.Progress
	}
	if err := o.progress.SetEditorial(ctx, job.ReportID, domain.ProgressRecord{
		Status:    domain.ProgressFailed,
		Progress:  pct,
		Message:   "Editorial analysis failed",
		Timestamp: time.Now().UTC(),
		Error:     cause.Error(),
	}); err != nil {
		logger.Error().Err(err).Msg("editorial: failure progress write failed")
	}
	o.setManuscriptStatus(ctx, job.ManuscriptKey, domain.ManuscriptFailed, logger)
	return cause
}

func (o *EditorialOrchestrator) writeProgress(ctx context.Context, reportID string, status domain.ProgressStatus, pct int, step string, logger zerolog.Logger) {
	err := o.progress.SetEditorial(ctx, reportID, domain.ProgressRecord{
		Status:      status,
		Progress:    pct,
		Message:     "Editorial analysis in progress",
		CurrentStep: step,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		logger.Warn().Err(err).Int("progress", pct).Msg("editorial: progress write failed")
	}
}

func (o *EditorialOrchestrator) setManuscriptStatus(ctx context.Context, key string, status domain.ManuscriptStatus, logger zerolog.Logger) {
	if o.manuscripts == nil {
		return
	}
	// The database column is advisory; the progress record stays canonical.
	if err := o.manuscripts.UpdateStatusByKey(ctx, key, status); err != nil {
		logger.Warn().Err(err).Str("status", string(status)).Msg("editorial: manuscript status update failed")
	}
}
