package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JonMunkholm/captionset/internal/core"
)

// DefaultBatchSize is the number of rows per INSERT in the GORM store.
const DefaultBatchSize = 1000

// DatasetImage is the GORM model of a stored image.
type DatasetImage struct {
	DatasetID          string `gorm:"primaryKey;uniqueIndex:idx_dataset_images_order,priority:1"`
	ImageKey           string `gorm:"primaryKey"`
	OrderIndex         int    `gorm:"not null;uniqueIndex:idx_dataset_images_order,priority:2"`
	ExternalImageID    *int64
	Filename           string `gorm:"not null;default:''"`
	PrimaryURL         string `gorm:"not null"`
	SecondaryURL       *string
	Width              int    `gorm:"not null;default:0"`
	Height             int    `gorm:"not null;default:0"`
	Caption            string `gorm:"not null"`
	AdditionalCaptions datatypes.JSONSlice[string]
	License            *string
	CreatedAt          time.Time
}

// TableName matches the table created by schema.sql.
func (DatasetImage) TableName() string {
	return "dataset_images"
}

func toModel(datasetID string, r core.ImageRecord) DatasetImage {
	return DatasetImage{
		DatasetID:          datasetID,
		ImageKey:           r.ImageKey,
		OrderIndex:         r.OrderIndex,
		ExternalImageID:    r.ExternalImageID,
		Filename:           r.Filename,
		PrimaryURL:         r.PrimaryURL,
		SecondaryURL:       r.SecondaryURL,
		Width:              r.Width,
		Height:             r.Height,
		Caption:            r.Caption,
		AdditionalCaptions: datatypes.JSONSlice[string](captionsOrEmpty(r.AdditionalCaptions)),
		License:            r.License,
	}
}

func (m DatasetImage) record() core.ImageRecord {
	return core.ImageRecord{
		ExternalImageID:    m.ExternalImageID,
		ImageKey:           m.ImageKey,
		OrderIndex:         m.OrderIndex,
		Filename:           m.Filename,
		PrimaryURL:         m.PrimaryURL,
		SecondaryURL:       m.SecondaryURL,
		Width:              m.Width,
		Height:             m.Height,
		Caption:            m.Caption,
		AdditionalCaptions: captionsOrEmpty([]string(m.AdditionalCaptions)),
		License:            m.License,
	}
}

// GormImageStore stores dataset images through GORM (SQLite or PostgreSQL).
type GormImageStore struct {
	db        *gorm.DB
	batchSize int
}

// NewGormImageStore wraps an open GORM handle.
func NewGormImageStore(db *gorm.DB, batchSize int) *GormImageStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &GormImageStore{db: db, batchSize: batchSize}
}

// OpenGorm opens a GORM handle for driver "sqlite" or "postgres".
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite has a single writer; one connection also keeps ":memory:" databases shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates the dataset_images table.
func (s *GormImageStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&DatasetImage{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// ReplaceAllImages deletes the dataset's images and inserts records in one
// transaction. Any failure rolls back, leaving the previous images intact.
func (s *GormImageStore) ReplaceAllImages(ctx context.Context, datasetID string, records []core.ImageRecord) (int, error) {
	rows := make([]DatasetImage, len(records))
	for i, r := range records {
		rows[i] = toModel(datasetID, r)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dataset_id = ?", datasetID).Delete(&DatasetImage{}).Error; err != nil {
			return fmt.Errorf("delete images: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, s.batchSize).Error; err != nil {
			return fmt.Errorf("insert images: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ListImages returns one page of a dataset's images ordered by OrderIndex.
func (s *GormImageStore) ListImages(ctx context.Context, datasetID string, page core.Page) ([]core.ImageRecord, error) {
	q := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("order_index")
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	} else if page.Offset > 0 {
		// SQLite rejects OFFSET without LIMIT.
		q = q.Limit(math.MaxInt32)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}

	var rows []DatasetImage
	err := q.Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}

	images := make([]core.ImageRecord, len(rows))
	for i, m := range rows {
		images[i] = m.record()
	}
	return images, nil
}

// CountImages returns how many images a dataset currently holds.
func (s *GormImageStore) CountImages(ctx context.Context, datasetID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&DatasetImage{}).Where("dataset_id = ?", datasetID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *GormImageStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *GormImageStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
