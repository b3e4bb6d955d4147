package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owlfenc-backend/internal/domains/contract/model"
)

// scriptedDrafts wraps a DraftService to count, fail or block saves.
type scriptedDrafts struct {
	inner DraftService

	mu       sync.Mutex
	saves    int
	failNext error
	started  chan struct{}
	release  chan struct{}
}

func (d *scriptedDrafts) Save(ctx context.Context, ownerID uuid.UUID, req model.SaveDraftRequest) (*model.SaveDraftResult, error) {
	d.mu.Lock()
	d.saves++
	err := d.failNext
	d.failNext = nil
	started, release := d.started, d.release
	d.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return d.inner.Save(ctx, ownerID, req)
}

func (d *scriptedDrafts) Load(ctx context.Context, ownerID, contractID uuid.UUID) (*model.DraftForm, error) {
	return d.inner.Load(ctx, ownerID, contractID)
}

func (d *scriptedDrafts) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saves
}

func titled(title string) model.SaveDraftRequest {
	req := validDraft()
	req.Title = title
	return req
}

// ================================================
// DEBOUNCER
// ================================================

func TestDebouncer_CoalescesTriggers(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var runs atomic.Int32
	var last atomic.Int32

	for i := 1; i <= 5; i++ {
		d.Trigger(func() {
			runs.Add(1)
			last.Store(int32(i))
		})
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int32(5), last.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var runs atomic.Int32

	d.Trigger(func() { runs.Add(1) })
	assert.True(t, d.Pending())
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

// ================================================
// AUTOSAVER
// ================================================

func TestAutoSaver_RapidEditsProduceOneSave(t *testing.T) {
	f := newFixture(t)
	drafts := &scriptedDrafts{inner: f.drafts}
	saver := NewAutoSaver(drafts, f.owner, 30*time.Millisecond)
	defer saver.Close()

	for _, title := range []string{"F", "Fe", "Fen", "Fenc", "Fence"} {
		require.NoError(t, saver.Schedule(titled(title)))
	}

	require.Eventually(t, func() bool { return saver.State() == SaveStateSaved }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, drafts.count())

	id, ok := saver.ContractID()
	require.True(t, ok)
	form, err := f.drafts.Load(context.Background(), f.owner, id)
	require.NoError(t, err)
	assert.Equal(t, "Fence", form.Title)
}

func TestAutoSaver_ReusesMintedID(t *testing.T) {
	f := newFixture(t)
	saver := NewAutoSaver(f.drafts, f.owner, time.Hour)
	defer saver.Close()
	ctx := context.Background()

	require.NoError(t, saver.Schedule(titled("one")))
	first, err := saver.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, first.Created)

	require.NoError(t, saver.Schedule(titled("two")))
	second, err := saver.Flush(ctx)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ContractID, second.ContractID)
	assert.Equal(t, 2, second.Version)

	list, err := f.query.ListDrafts(ctx, f.owner, model.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestAutoSaver_FlushWithNothingPending(t *testing.T) {
	f := newFixture(t)
	saver := NewAutoSaver(f.drafts, f.owner, time.Hour)
	defer saver.Close()

	res, err := saver.Flush(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, SaveStateIdle, saver.State())
}

func TestAutoSaver_ResumeUpdatesExistingDraft(t *testing.T) {
	f := newFixture(t)
	id := f.saveDraft(t, nil)

	saver := NewAutoSaver(f.drafts, f.owner, time.Hour)
	defer saver.Close()
	saver.Resume(id)

	require.NoError(t, saver.Schedule(titled("resumed")))
	res, err := saver.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, res.ContractID)
	assert.False(t, res.Created)
}

func TestAutoSaver_CloseCancelsPendingSave(t *testing.T) {
	f := newFixture(t)
	drafts := &scriptedDrafts{inner: f.drafts}
	saver := NewAutoSaver(drafts, f.owner, 30*time.Millisecond)

	require.NoError(t, saver.Schedule(titled("never saved")))
	saver.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, drafts.count())
	assert.ErrorIs(t, saver.Schedule(titled("late")), ErrAutoSaverClosed)
	_, err := saver.Flush(context.Background())
	assert.ErrorIs(t, err, ErrAutoSaverClosed)
}

func TestAutoSaver_CloseWaitsForInflightSave(t *testing.T) {
	f := newFixture(t)
	drafts := &scriptedDrafts{
		inner:   f.drafts,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	saver := NewAutoSaver(drafts, f.owner, time.Millisecond)

	require.NoError(t, saver.Schedule(titled("in flight")))
	select {
	case <-drafts.started:
	case <-time.After(time.Second):
		t.Fatal("save never started")
	}

	closed := make(chan struct{})
	go func() {
		saver.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a save was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(drafts.release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the save finished")
	}

	assert.Equal(t, SaveStateSaved, saver.State())
	_, ok := saver.ContractID()
	assert.True(t, ok)
}

func TestAutoSaver_FailedSaveKeepsPayload(t *testing.T) {
	f := newFixture(t)
	drafts := &scriptedDrafts{inner: f.drafts, failNext: errors.New("db down")}
	saver := NewAutoSaver(drafts, f.owner, time.Hour)
	defer saver.Close()
	ctx := context.Background()

	require.NoError(t, saver.Schedule(titled("retry me")))
	_, err := saver.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, SaveStateError, saver.State())
	assert.True(t, saver.Pending())
	assert.Error(t, saver.Err())

	res, err := saver.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, SaveStateSaved, saver.State())
	assert.NoError(t, saver.Err())
	assert.False(t, saver.Pending())

	form, err := f.drafts.Load(ctx, f.owner, res.ContractID)
	require.NoError(t, err)
	assert.Equal(t, "retry me", form.Title)
}

// ================================================
// REGISTRY
// ================================================

func TestAutoSaveRegistry_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	reg := NewAutoSaveRegistry(f.drafts, time.Hour, time.Hour)
	ctx := context.Background()

	_, err := reg.Schedule(f.owner, "tab-a", titled("A"))
	require.NoError(t, err)
	_, err = reg.Schedule(f.owner, "tab-b", titled("B"))
	require.NoError(t, err)

	a, err := reg.Flush(ctx, f.owner, "tab-a")
	require.NoError(t, err)
	b, err := reg.Flush(ctx, f.owner, "tab-b")
	require.NoError(t, err)
	assert.NotEqual(t, a.ContractID, b.ContractID)

	status, ok := reg.Status(f.owner, "tab-a")
	require.True(t, ok)
	assert.Equal(t, SaveStateSaved, status.State)
	require.NotNil(t, status.ContractID)
	assert.Equal(t, a.ContractID, *status.ContractID)

	_, ok = reg.Status(uuid.New(), "tab-a")
	assert.False(t, ok)

	reg.Shutdown(ctx)
}

func TestAutoSaveRegistry_EvictIdleFlushesPendingEdits(t *testing.T) {
	f := newFixture(t)
	reg := NewAutoSaveRegistry(f.drafts, time.Hour, time.Minute)
	ctx := context.Background()

	_, err := reg.Schedule(f.owner, "tab", titled("left open"))
	require.NoError(t, err)

	assert.Equal(t, 0, reg.EvictIdle(ctx, time.Now()))
	assert.Equal(t, 1, reg.EvictIdle(ctx, time.Now().Add(2*time.Minute)))

	_, ok := reg.Status(f.owner, "tab")
	assert.False(t, ok)

	list, err := f.query.ListDrafts(ctx, f.owner, model.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "left open", list.Items[0].Title)
}

func TestAutoSaveRegistry_CloseDropsUnsavedEdit(t *testing.T) {
	f := newFixture(t)
	reg := NewAutoSaveRegistry(f.drafts, time.Hour, time.Hour)

	_, err := reg.Schedule(f.owner, "tab", titled("discarded"))
	require.NoError(t, err)
	reg.Close(f.owner, "tab")

	list, err := f.query.ListDrafts(context.Background(), f.owner, model.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
}
