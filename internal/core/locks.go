package core

// locks.go serializes ingestions per dataset.
//
// Replace-all semantics make two concurrent uploads to the same dataset
// racy, so the orchestrator holds an exclusive per-dataset lock around the
// atomic replace. Different datasets never contend. Lock entries are
// reference counted and removed once no holder or waiter remains.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDatasetBusy is returned when a dataset's lock cannot be acquired in time.
var ErrDatasetBusy = errors.New("dataset is busy with another upload")

type datasetLock struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

// DatasetLocks is a keyed, context-aware mutex.
type DatasetLocks struct {
	mu      sync.Mutex
	locks   map[string]*datasetLock
	maxWait time.Duration
}

// NewDatasetLocks creates a lock table. Acquire gives up after maxWait;
// maxWait <= 0 waits until the context is done.
func NewDatasetLocks(maxWait time.Duration) *DatasetLocks {
	return &DatasetLocks{
		locks:   make(map[string]*datasetLock),
		maxWait: maxWait,
	}
}

// Acquire blocks until the lock for datasetID is held. The returned func
// releases it and must be called exactly once.
func (l *DatasetLocks) Acquire(ctx context.Context, datasetID string) (func(), error) {
	l.mu.Lock()
	dl, ok := l.locks[datasetID]
	if !ok {
		dl = &datasetLock{ch: make(chan struct{}, 1)}
		l.locks[datasetID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	select {
	case dl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-dl.ch
				l.unref(datasetID, dl)
			})
		}, nil
	case <-waitCtx.Done():
		l.unref(datasetID, dl)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrDatasetBusy
	}
}

func (l *DatasetLocks) unref(datasetID string, dl *datasetLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, datasetID)
	}
}

// Held reports whether datasetID is currently locked.
func (l *DatasetLocks) Held(datasetID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl, ok := l.locks[datasetID]
	return ok && len(dl.ch) > 0
}
