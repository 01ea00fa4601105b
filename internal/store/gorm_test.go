package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/captionset/internal/config"
	"github.com/JonMunkholm/captionset/internal/core"
)

func newSQLiteStore(t *testing.T) *GormImageStore {
	t.Helper()

	db, err := OpenGorm(DriverSQLite, ":memory:")
	require.NoError(t, err)

	s := NewGormImageStore(db, 2)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecords(keys ...string) []core.ImageRecord {
	out := make([]core.ImageRecord, len(keys))
	for i, k := range keys {
		out[i] = core.ImageRecord{
			ImageKey:           k,
			OrderIndex:         i + 1,
			Filename:           k + ".jpg",
			PrimaryURL:         "http://x/" + k + ".jpg",
			Width:              64,
			Height:             64,
			Caption:            "caption " + k,
			AdditionalCaptions: []string{},
		}
	}
	return out
}

func TestGormImageStore_ReplaceAndList(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	ext := int64(42)
	flickr := "http://flickr/a.jpg"
	license := "CC BY"
	records := sampleRecords("a", "b", "c")
	records[0].ExternalImageID = &ext
	records[0].SecondaryURL = &flickr
	records[0].License = &license
	records[0].AdditionalCaptions = []string{"second", "third"}

	n, err := s.ReplaceAllImages(ctx, "ds-1", records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.ListImages(ctx, "ds-1", core.Page{})
	require.NoError(t, err)
	assert.Equal(t, records, got)

	count, err := s.CountImages(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestGormImageStore_ListPages(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.ReplaceAllImages(ctx, "ds", sampleRecords("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	tests := []struct {
		name string
		page core.Page
		want []string
	}{
		{"everything", core.Page{}, []string{"a", "b", "c", "d", "e"}},
		{"limit", core.Page{Limit: 2}, []string{"a", "b"}},
		{"window", core.Page{Limit: 2, Offset: 1}, []string{"b", "c"}},
		{"offset only", core.Page{Offset: 3}, []string{"d", "e"}},
		{"past the end", core.Page{Limit: 10, Offset: 9}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListImages(ctx, "ds", tt.page)
			require.NoError(t, err)
			keys := make([]string, len(got))
			for i, img := range got {
				keys[i] = img.ImageKey
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestGormImageStore_ReplaceRemovesPrevious(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.ReplaceAllImages(ctx, "ds-1", sampleRecords("a", "b", "c"))
	require.NoError(t, err)
	_, err = s.ReplaceAllImages(ctx, "ds-2", sampleRecords("z"))
	require.NoError(t, err)

	_, err = s.ReplaceAllImages(ctx, "ds-1", sampleRecords("b", "d"))
	require.NoError(t, err)

	got, err := s.ListImages(ctx, "ds-1", core.Page{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ImageKey)
	assert.Equal(t, "d", got[1].ImageKey)

	other, err := s.ListImages(ctx, "ds-2", core.Page{})
	require.NoError(t, err)
	assert.Len(t, other, 1, "other datasets are untouched")
}

func TestGormImageStore_FailedReplaceIsAtomic(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	before := sampleRecords("a", "b")
	_, err := s.ReplaceAllImages(ctx, "ds-1", before)
	require.NoError(t, err)

	// The duplicate lands in the second insert batch, after the delete and
	// the first batch have run inside the transaction.
	bad := sampleRecords("x", "y", "x")
	_, err = s.ReplaceAllImages(ctx, "ds-1", bad)
	require.Error(t, err)
	assert.True(t, strings.Contains(strings.ToLower(err.Error()), "unique"), "got %v", err)

	got, err := s.ListImages(ctx, "ds-1", core.Page{})
	require.NoError(t, err)
	assert.Equal(t, before, got)
}

func TestGormImageStore_CancelledContext(t *testing.T) {
	s := newSQLiteStore(t)

	before := sampleRecords("a")
	_, err := s.ReplaceAllImages(context.Background(), "ds-1", before)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReplaceAllImages(ctx, "ds-1", sampleRecords("b"))
	require.Error(t, err)

	got, err := s.ListImages(context.Background(), "ds-1", core.Page{})
	require.NoError(t, err)
	assert.Equal(t, before, got)
}

func TestGormImageStore_WithService(t *testing.T) {
	s := newSQLiteStore(t)
	svc, err := core.NewService(s, core.ServiceConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	coco := `{"images":[{"id":1,"coco_url":"http://x/a.jpg","width":512,"height":512}],` +
		`"annotations":[{"image_id":1,"caption":"a cat"},{"image_id":1,"caption":"a fluffy cat"}]}`
	res, err := svc.IngestBytes(ctx, "ds", []byte(coco))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	got, err := s.ListImages(ctx, "ds", core.Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a cat", got[0].Caption)
	assert.Equal(t, []string{"a fluffy cat"}, got[0].AdditionalCaptions)
	assert.Equal(t, "a.jpg", got[0].Filename)

	// A rejected upload keeps the stored images.
	_, err = svc.IngestBytes(ctx, "ds", []byte("filename,url,width,height,prompt\na.jpg,,1,1,x\n"))
	require.ErrorIs(t, err, core.ErrEmptyResult)

	got, err = s.ListImages(ctx, "ds", core.Page{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), config.DatabaseConfig{
		URL:         ":memory:",
		Driver:      config.DriverSQLite,
		Backend:     config.BackendGorm,
		AutoMigrate: true,
	}, 100)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.ReplaceAllImages(context.Background(), "ds", sampleRecords("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Backend: "bolt"}, 0)
	assert.Error(t, err)
}

func TestOpenGorm_UnknownDriver(t *testing.T) {
	_, err := OpenGorm("mysql", "dsn")
	assert.Error(t, err)
}
