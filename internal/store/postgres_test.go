package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/captionset/internal/config"
	"github.com/JonMunkholm/captionset/internal/core"
)

// openTestPostgres connects to CAPTIONSET_TEST_DATABASE_URL or skips.
func openTestPostgres(t *testing.T, backend string) Store {
	t.Helper()
	url := os.Getenv("CAPTIONSET_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CAPTIONSET_TEST_DATABASE_URL not set")
	}

	s, err := Open(context.Background(), config.DatabaseConfig{
		URL:             url,
		Driver:          DriverPostgres,
		Backend:         backend,
		AutoMigrate:     true,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}, 2)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresBackends(t *testing.T) {
	for _, backend := range []string{config.BackendPGX, config.BackendGorm} {
		t.Run(backend, func(t *testing.T) {
			s := openTestPostgres(t, backend)
			ctx := context.Background()
			datasetID := "store-test-" + backend

			before := sampleRecords("a", "b")
			before[1].AdditionalCaptions = []string{"more"}
			_, err := s.ReplaceAllImages(ctx, datasetID, before)
			require.NoError(t, err)

			got, err := s.ListImages(ctx, datasetID, core.Page{})
			require.NoError(t, err)
			assert.Equal(t, before, got)

			page, err := s.ListImages(ctx, datasetID, core.Page{Limit: 1, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, before[1:], page)

			_, err = s.ReplaceAllImages(ctx, datasetID, sampleRecords("x", "y", "x"))
			require.Error(t, err)

			got, err = s.ListImages(ctx, datasetID, core.Page{})
			require.NoError(t, err)
			assert.Equal(t, before, got, "failed replace leaves previous images")

			_, err = s.ReplaceAllImages(ctx, datasetID, nil)
			require.NoError(t, err)
			n, err := s.CountImages(ctx, datasetID)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}
