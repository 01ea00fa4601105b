package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/captionset/internal/core"
)

//go:embed schema.sql
var schemaSQL string

var imageColumns = []string{
	"dataset_id",
	"image_key",
	"order_index",
	"external_image_id",
	"filename",
	"primary_url",
	"secondary_url",
	"width",
	"height",
	"caption",
	"additional_captions",
	"license",
}

// PGImageStore stores dataset images in PostgreSQL through a pgx pool.
type PGImageStore struct {
	pool *pgxpool.Pool
}

// NewPGImageStore wraps an open pool. The caller owns the pool unless Close is called.
func NewPGImageStore(pool *pgxpool.Pool) *PGImageStore {
	return &PGImageStore{pool: pool}
}

// Migrate creates the dataset_images table and its indexes if missing.
func (s *PGImageStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ReplaceAllImages swaps the dataset's images for records in one transaction.
//
// A transaction-scoped advisory lock keyed on the dataset id serializes
// replacements across processes; it is released on commit or rollback.
// Any failure rolls back, leaving the previous images intact.
func (s *PGImageStore) ReplaceAllImages(ctx context.Context, datasetID string, records []core.ImageRecord) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, datasetID); err != nil {
		return 0, fmt.Errorf("lock dataset: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM dataset_images WHERE dataset_id = $1`, datasetID); err != nil {
		return 0, fmt.Errorf("delete images: %w", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"dataset_images"},
		imageColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				datasetID,
				r.ImageKey,
				r.OrderIndex,
				r.ExternalImageID,
				r.Filename,
				r.PrimaryURL,
				r.SecondaryURL,
				r.Width,
				r.Height,
				r.Caption,
				captionsOrEmpty(r.AdditionalCaptions),
				r.License,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy images: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}

// ListImages returns one page of a dataset's images ordered by OrderIndex.
func (s *PGImageStore) ListImages(ctx context.Context, datasetID string, page core.Page) ([]core.ImageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT image_key, order_index, external_image_id, filename, primary_url,
		       secondary_url, width, height, caption, additional_captions, license
		FROM dataset_images
		WHERE dataset_id = $1
		ORDER BY order_index
		LIMIT NULLIF($2::bigint, 0) OFFSET $3`, datasetID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}

	images, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ImageRecord, error) {
		var r core.ImageRecord
		err := row.Scan(
			&r.ImageKey, &r.OrderIndex, &r.ExternalImageID, &r.Filename, &r.PrimaryURL,
			&r.SecondaryURL, &r.Width, &r.Height, &r.Caption, &r.AdditionalCaptions, &r.License,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan images: %w", err)
	}
	return images, nil
}

// CountImages returns how many images a dataset currently holds.
func (s *PGImageStore) CountImages(ctx context.Context, datasetID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM dataset_images WHERE dataset_id = $1`, datasetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *PGImageStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying pool.
func (s *PGImageStore) Close() error {
	s.pool.Close()
	return nil
}

func captionsOrEmpty(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}
