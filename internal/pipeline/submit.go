package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bookforge/internal/domain"
	"bookforge/internal/progress"
	"bookforge/internal/queuing"
	"bookforge/internal/storage"
)

const reportIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewReportID mints an 8-character lowercase alphanumeric run handle.
func NewReportID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint report id: %w", err)
	}
	for i, b := range buf {
		buf[i] = reportIDAlphabet[int(b)%len(reportIDAlphabet)]
	}
	return string(buf), nil
}

// ManuscriptReader is the lookup slice of the manuscript repository the
// submitter needs.
type ManuscriptReader interface {
	GetByKey(ctx context.Context, storageKey string) (*domain.Manuscript, error)
}

// Submitter is the synchronous front of the pipeline: it mints report ids,
// seeds progress records, and enqueues jobs for the workers.
type Submitter struct {
	store         storage.BlobStore
	progress      *progress.Store
	analysisQueue queuing.Publisher
	assetQueue    queuing.Publisher
	manuscripts   ManuscriptReader
	logger        zerolog.Logger
}

func NewSubmitter(store storage.BlobStore, progressStore *progress.Store, analysisQueue, assetQueue queuing.Publisher, logger zerolog.Logger) *Submitter {
	return &Submitter{
		store:         store,
		progress:      progressStore,
		analysisQueue: analysisQueue,
		assetQueue:    assetQueue,
		logger:        logger,
	}
}

// SetManuscripts enables manuscript record lookups. Without a reader the
// submitter only checks the blob store.
func (s *Submitter) SetManuscripts(r ManuscriptReader) {
	s.manuscripts = r
}

// EditorialRequest carries everything a caller supplies to start an
// editorial run.
type EditorialRequest struct {
	ManuscriptKey string
	Genre         string
	StyleGuide    string
}

// SubmitEditorial verifies the manuscript exists, binds a fresh report id to
// it, seeds the queued progress record, and enqueues the job. The returned id
// is the caller's polling handle.
func (s *Submitter) SubmitEditorial(ctx context.Context, req EditorialRequest) (string, error) {
	ok, err := s.store.Exists(ctx, req.ManuscriptKey)
	if err != nil {
		return "", fmt.Errorf("check manuscript: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: manuscript %q", domain.ErrNotFound, req.ManuscriptKey)
	}

	genre := req.Genre
	if s.manuscripts != nil {
		m, err := s.manuscripts.GetByKey(ctx, req.ManuscriptKey)
		if err != nil {
			return "", fmt.Errorf("manuscript record: %w", err)
		}
		if genre == "" {
			genre = m.Genre
		}
	}

	reportID, err := NewReportID()
	if err != nil {
		return "", err
	}
	if err := s.progress.BindReport(ctx, reportID, req.ManuscriptKey); err != nil {
		return "", fmt.Errorf("bind report: %w", err)
	}
	if err := s.progress.SetEditorial(ctx, reportID, domain.ProgressRecord{
		Status:    domain.ProgressQueued,
		Progress:  0,
		Message:   "Analysis queued",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("seed progress: %w", err)
	}
	if err := s.analysisQueue.Publish(ctx, domain.EditorialJob{
		ManuscriptKey: req.ManuscriptKey,
		Genre:         genre,
		StyleGuide:    req.StyleGuide,
		ReportID:      reportID,
	}); err != nil {
		return "", fmt.Errorf("enqueue analysis: %w", err)
	}

	s.logger.Info().Str("report_id", reportID).Str("manuscript_key", req.ManuscriptKey).Msg("submit: editorial run queued")
	return reportID, nil
}

// AssetRequest re-triggers asset generation for a prior editorial run.
type AssetRequest struct {
	ReportID   string
	Genre      string
	AuthorData map[string]any
	SeriesData map[string]any
}

// SubmitAssets resolves the report id back to its manuscript, requires the
// developmental analysis artifact to exist, and enqueues an asset job under
// the same report id.
func (s *Submitter) SubmitAssets(ctx context.Context, req AssetRequest) error {
	manuscriptKey, err := s.progress.ResolveReport(ctx, req.ReportID)
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidReportID, req.ReportID)
	}

	ok, err := s.store.Exists(ctx, manuscriptKey+analysisSuffix)
	if err != nil {
		return fmt.Errorf("check analysis artifact: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no developmental analysis for %q", domain.ErrMissingPrerequisite, manuscriptKey)
	}

	if err := s.progress.ResetAsset(ctx, req.ReportID, domain.AssetProgressRecord{
		ProgressRecord: domain.ProgressRecord{
			Status:    domain.ProgressQueued,
			Progress:  0,
			Message:   "Asset generation queued",
			Timestamp: time.Now().UTC(),
		},
	}); err != nil {
		return fmt.Errorf("seed progress: %w", err)
	}
	if err := s.assetQueue.Publish(ctx, domain.AssetJob{
		ManuscriptKey: manuscriptKey,
		ReportID:      req.ReportID,
		Genre:         req.Genre,
		AuthorData:    req.AuthorData,
		SeriesData:    req.SeriesData,
	}); err != nil {
		return fmt.Errorf("enqueue assets: %w", err)
	}

	s.logger.Info().Str("report_id", req.ReportID).Str("manuscript_key", manuscriptKey).Msg("submit: asset run queued")
	return nil
}
