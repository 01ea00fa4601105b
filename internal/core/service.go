package core

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/JonMunkholm/captionset/internal/logging"
)

// DefaultUploadTimeout bounds a single ingestion when ServiceConfig.Timeout is unset.
const DefaultUploadTimeout = 10 * time.Minute

// Outcome labels reported to a MetricsRecorder.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected" // no upload slot or dataset lock
)

// MetricsRecorder receives ingestion measurements. A nil recorder is allowed.
type MetricsRecorder interface {
	ObserveIngestion(format Format, outcome string, d time.Duration)
	AddImages(format Format, inserted, skipped int)
	SetActiveUploads(n int)
}

// ServiceConfig holds the orchestrator's limits.
type ServiceConfig struct {
	MaxFileSize    int64         // 0 disables the size budget
	MaxConcurrent  int           // parallel ingestions
	MaxWaitTime    time.Duration // wait for an upload slot
	Timeout        time.Duration // whole-ingestion budget
	LockWaitTime   time.Duration // wait for the per-dataset lock; 0 waits for the context
	SkipSampleSize int

	Keys    KeyGenerator
	Metrics MetricsRecorder
}

// Service orchestrates ingestion: sniff, parse, validate and replace.
// It is safe for concurrent use.
type Service struct {
	sink    ImageSink
	cfg     ServiceConfig
	limiter *UploadLimiter
	locks   *DatasetLocks

	entropyMu sync.Mutex
	entropy   io.Reader
}

// NewService creates a Service that persists into sink.
func NewService(sink ImageSink, cfg ServiceConfig) (*Service, error) {
	if sink == nil {
		return nil, errors.New("nil image sink")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultUploadTimeout
	}
	if cfg.SkipSampleSize <= 0 {
		cfg.SkipSampleSize = DefaultSkipSampleSize
	}
	if cfg.Keys == nil {
		cfg.Keys = UUIDKeys{}
	}

	return &Service{
		sink:    sink,
		cfg:     cfg,
		limiter: NewUploadLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		locks:   NewDatasetLocks(cfg.LockWaitTime),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (s *Service) newIngestionID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}

func (s *Service) parseOptions() []ParseOption {
	return []ParseOption{
		WithKeyGenerator(s.cfg.Keys),
		WithSkipSampleSize(s.cfg.SkipSampleSize),
	}
}

// IngestUpload replaces every image of datasetID with the contents of r.
//
// The payload is sniffed as COCO or CSV and parsed into a validated batch.
// Parse failures return before storage is touched, so the previous images
// survive untouched; otherwise the batch is written through the sink's
// atomic ReplaceAllImages while holding the dataset's lock.
func (s *Service) IngestUpload(ctx context.Context, datasetID string, r io.Reader) (*IngestResult, error) {
	start := time.Now()
	id := s.newIngestionID()
	log := logging.WithFields(ctx, "ingestion_id", id, "dataset_id", datasetID)

	if err := s.limiter.Acquire(ctx); err != nil {
		log.Warn("ingestion rejected", "error", err)
		s.observe(FormatUnrecognized, OutcomeRejected, start)
		return nil, err
	}
	s.setActive()
	defer func() {
		s.limiter.Release()
		s.setActive()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	counter := NewLimitedCountingReader(r, s.cfg.MaxFileSize)
	parsed, err := s.parse(ctx, counter)
	if err != nil {
		format := FormatUnrecognized
		var ie *IngestError
		if errors.As(err, &ie) {
			format = ie.Format
		}
		log.Warn("ingestion failed", "format", format, "bytes", counter.BytesRead, "error", err)
		s.observe(format, outcomeFor(err), start)
		return nil, err
	}
	log = log.With("format", parsed.Format)
	log.Debug("upload parsed", "bytes", counter.BytesRead, "records", len(parsed.Records))
	logSkips(log, parsed.Skipped)

	release, err := s.locks.Acquire(ctx, datasetID)
	if err != nil {
		log.Warn("dataset lock unavailable", "error", err)
		s.observe(parsed.Format, OutcomeRejected, start)
		return nil, fmt.Errorf("lock dataset %s: %w", datasetID, err)
	}
	inserted, err := s.sink.ReplaceAllImages(ctx, datasetID, parsed.Records)
	release()
	if err != nil {
		perr := persistenceError(parsed.Format, err)
		log.Error("ingestion failed", "error", perr)
		s.observe(parsed.Format, string(KindPersistence), start)
		return nil, perr
	}

	result := &IngestResult{
		IngestionID:       id,
		DatasetID:         datasetID,
		Format:            parsed.Format,
		Inserted:          inserted,
		Skipped:           parsed.Skipped.Total,
		SkipReasons:       parsed.Skipped.Reasons,
		SkipSamples:       parsed.Skipped.Samples,
		DimensionWarnings: parsed.DimensionWarnings,
		Duration:          time.Since(start),
	}

	log.Info("ingestion completed",
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"dimension_warnings", result.DimensionWarnings,
		"duration", result.Duration,
	)
	s.observe(parsed.Format, OutcomeSuccess, start)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AddImages(parsed.Format, result.Inserted, result.Skipped)
	}
	return result, nil
}

// IngestBytes is IngestUpload for an in-memory payload.
func (s *Service) IngestBytes(ctx context.Context, datasetID string, data []byte) (*IngestResult, error) {
	return s.IngestUpload(ctx, datasetID, bytes.NewReader(data))
}

// Preview parses and validates r without persisting anything. It shares the
// size and time budgets of IngestUpload but takes no upload slot.
func (s *Service) Preview(ctx context.Context, r io.Reader) (*ParseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.parse(ctx, NewLimitedCountingReader(r, s.cfg.MaxFileSize))
}

// parse sniffs r and dispatches to the matching parser.
func (s *Service) parse(ctx context.Context, r io.Reader) (*ParseResult, error) {
	return ParseUpload(ctx, r, s.parseOptions()...)
}

// ParseUpload detects the format of r and parses it into a validated batch.
// Nothing is persisted.
func ParseUpload(ctx context.Context, r io.Reader, opts ...ParseOption) (*ParseResult, error) {
	sniffed, err := SniffReader(r)
	if err != nil {
		return nil, structuralError(FormatUnrecognized, "read upload", err)
	}

	switch sniffed.Format {
	case FormatCOCO:
		if err := ctx.Err(); err != nil {
			return nil, structuralError(FormatCOCO, "upload aborted", err)
		}
		return ParseCOCO(sniffed.Data, opts...)
	case FormatCSV:
		return ParseCSV(ctx, sniffed.Reader, opts...)
	default:
		return nil, structuralError(FormatUnrecognized, "empty file", nil)
	}
}

// UploadStatus reports the upload limiter's state.
func (s *Service) UploadStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until in-flight ingestions finish or ctx is done.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) observe(format Format, outcome string, start time.Time) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveIngestion(format, outcome, time.Since(start))
	}
}

func (s *Service) setActive() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetActiveUploads(s.limiter.ActiveCount())
	}
}

func outcomeFor(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// logSkips summarizes an ingestion's soft skips in one entry.
func logSkips(log *slog.Logger, r SkipReport) {
	if r.Total == 0 {
		return
	}
	samples := make([]string, len(r.Samples))
	for i, w := range r.Samples {
		samples[i] = w.String()
	}
	log.Warn("records skipped", "skipped", r.Total, "samples", samples)
}
