package core

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Format identifies the detected layout of an uploaded file.
type Format string

const (
	FormatUnrecognized Format = "unrecognized"
	FormatCOCO         Format = "coco"
	FormatCSV          Format = "csv"
)

func (f Format) String() string {
	return string(f)
}

// ImageRecord is the canonical, format-agnostic unit persisted for a dataset.
type ImageRecord struct {
	ExternalImageID    *int64   `json:"externalImageId,omitempty"`
	ImageKey           string   `json:"imageKey" validate:"required"`
	OrderIndex         int      `json:"orderIndex"`
	Filename           string   `json:"filename"`
	PrimaryURL         string   `json:"primaryUrl" validate:"required"`
	SecondaryURL       *string  `json:"secondaryUrl,omitempty"`
	Width              int      `json:"width" validate:"gte=0"`
	Height             int      `json:"height" validate:"gte=0"`
	Caption            string   `json:"caption" validate:"required"`
	AdditionalCaptions []string `json:"additionalCaptions"`
	License            *string  `json:"license,omitempty"`
}

// Page selects a window of a dataset's images in OrderIndex order.
// A zero Limit returns every image from Offset on.
type Page struct {
	Limit  int
	Offset int
}

// ImageSink persists a dataset's image collection.
//
// ReplaceAllImages must be failure-atomic: either every previously stored
// image of the dataset is replaced by records, or nothing changes.
type ImageSink interface {
	ReplaceAllImages(ctx context.Context, datasetID string, records []ImageRecord) (int, error)
}

// KeyGenerator produces fresh image keys that are unique with overwhelming probability.
type KeyGenerator interface {
	NewKey() string
}

// SoftSkipWarning describes a single source record dropped during parsing.
type SoftSkipWarning struct {
	Position int    `json:"position"`      // 1-based image index (COCO) or line number (CSV)
	Ref      string `json:"ref,omitempty"` // image id or filename when known
	Reason   string `json:"reason"`
}

func (w SoftSkipWarning) String() string {
	if w.Ref != "" {
		return fmt.Sprintf("#%d (%s): %s", w.Position, w.Ref, w.Reason)
	}
	return fmt.Sprintf("#%d: %s", w.Position, w.Reason)
}

// SkipReport accumulates soft skips with a bounded sample.
type SkipReport struct {
	Total   int               `json:"total"`
	Reasons map[string]int    `json:"reasons,omitempty"` // every skip, counted by reason
	Samples []SoftSkipWarning `json:"samples,omitempty"`

	limit int
}

func newSkipReport(limit int) SkipReport {
	if limit < 0 {
		limit = 0
	}
	return SkipReport{limit: limit}
}

func (r *SkipReport) add(w SoftSkipWarning) {
	r.Total++
	if r.Reasons == nil {
		r.Reasons = make(map[string]int)
	}
	r.Reasons[w.Reason]++
	if len(r.Samples) < r.limit {
		r.Samples = append(r.Samples, w)
	}
}

// ParseResult is the output of a parser: an ordered, validated batch.
type ParseResult struct {
	Format            Format        `json:"format"`
	Records           []ImageRecord `json:"records"`
	Skipped           SkipReport    `json:"skipped"`
	DimensionWarnings int           `json:"dimensionWarnings"` // records with zero or odd width/height
}

// IngestResult is returned by a successful ingestion.
type IngestResult struct {
	IngestionID       string            `json:"ingestionId"`
	DatasetID         string            `json:"datasetId"`
	Format            Format            `json:"format"`
	Inserted          int               `json:"inserted"`
	Skipped           int               `json:"skipped"`
	SkipReasons       map[string]int    `json:"skipReasons,omitempty"`
	SkipSamples       []SoftSkipWarning `json:"skipSamples,omitempty"`
	DimensionWarnings int               `json:"dimensionWarnings"`
	Duration          time.Duration     `json:"duration"`
}

// Summary renders the user-facing outcome of an ingestion. Skips caused by
// a missing URL or caption are reported as such; any other reasons are
// listed with their counts.
func (r *IngestResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingested %d images", r.Inserted)
	if r.Skipped == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "; %d images skipped", r.Skipped)
	other := make([]string, 0, len(r.SkipReasons))
	for reason := range r.SkipReasons {
		if !missingContentReasons[reason] {
			other = append(other, reason)
		}
	}
	switch {
	case len(r.SkipReasons) == 0:
	case len(other) == 0:
		b.WriteString(" (no URL/caption)")
	default:
		reasons := slices.Collect(maps.Keys(r.SkipReasons))
		slices.SortFunc(reasons, func(x, y string) int {
			if c := cmp.Compare(r.SkipReasons[y], r.SkipReasons[x]); c != 0 {
				return c
			}
			return cmp.Compare(x, y)
		})
		parts := make([]string, len(reasons))
		for i, reason := range reasons {
			parts[i] = fmt.Sprintf("%s: %d", reason, r.SkipReasons[reason])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	return b.String()
}
