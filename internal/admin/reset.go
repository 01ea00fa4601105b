// Package admin provides administrative operations on stored datasets.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/captionset/internal/core"
)

// ResetTimeout is the maximum duration for a dataset reset.
const ResetTimeout = 30 * time.Second

// Resetter removes every image of a dataset.
type Resetter struct {
	Sink core.ImageSink
}

// ResetDataset replaces the dataset's images with nothing. The dataset lock
// is not taken; run it when no ingestion targets the dataset.
func (r *Resetter) ResetDataset(ctx context.Context, datasetID string) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	if _, err := r.Sink.ReplaceAllImages(ctx, datasetID, nil); err != nil {
		return fmt.Errorf("reset dataset %s: %w", datasetID, err)
	}
	slog.Info("dataset reset", "dataset_id", datasetID)
	return nil
}

// ResetAll resets each dataset in turn and reports every failure.
func (r *Resetter) ResetAll(ctx context.Context, datasetIDs ...string) error {
	var errs []error
	for _, id := range datasetIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.ResetDataset(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
