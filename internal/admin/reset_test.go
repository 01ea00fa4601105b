package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/captionset/internal/core"
)

type recordingSink struct {
	replaced map[string]int
	failOn   string
}

func (s *recordingSink) ReplaceAllImages(_ context.Context, datasetID string, records []core.ImageRecord) (int, error) {
	if datasetID == s.failOn {
		return 0, errors.New("connection reset by peer")
	}
	if s.replaced == nil {
		s.replaced = make(map[string]int)
	}
	s.replaced[datasetID] = len(records)
	return len(records), nil
}

func TestResetDataset(t *testing.T) {
	sink := &recordingSink{}
	r := &Resetter{Sink: sink}

	require.NoError(t, r.ResetDataset(context.Background(), "ds"))
	assert.Equal(t, map[string]int{"ds": 0}, sink.replaced)
}

func TestResetAll_ReportsEveryFailure(t *testing.T) {
	sink := &recordingSink{failOn: "b"}
	r := &Resetter{Sink: sink}

	err := r.ResetAll(context.Background(), "a", "b", "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset dataset b")
	assert.Equal(t, map[string]int{"a": 0, "c": 0}, sink.replaced)
}

func TestResetAll_Cancelled(t *testing.T) {
	sink := &recordingSink{}
	r := &Resetter{Sink: sink}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.ResetAll(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.replaced)
}
