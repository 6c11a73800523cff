package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/ridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	numCalls int
	err      error
	models   []*model.TrainedModel
}

func (fl *fakeLoader) LoadLatest(ctx context.Context) (*model.TrainedModel, error) {
	fl.numCalls++
	if fl.err != nil {
		return nil, fl.err
	}
	idx := fl.numCalls - 1
	if idx >= len(fl.models) {
		idx = len(fl.models) - 1
	}
	return fl.models[idx], nil
}

type fakeClock struct {
	t time.Time
}

func (fc *fakeClock) Now() time.Time {
	return fc.t
}

func (fc *fakeClock) Advance(d time.Duration) {
	fc.t = fc.t.Add(d)
}

func newModel(name string) *model.TrainedModel {
	return &model.TrainedModel{
		Regressor: ridge.NewModel(1),
		Metadata:  model.Metadata{Name: name},
	}
}

func newTestCache(loader Loader) (*ModelCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	return NewModelCache(loader, WithClock(clock.Now), WithTTL(300*time.Second)), clock
}

func TestGetWithinTTLDoesNoIO(t *testing.T) {
	loader := &fakeLoader{models: []*model.TrainedModel{newModel("m1")}}
	mc, clock := newTestCache(loader)

	tm, err := mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m1", tm.Metadata.Name)
	assert.Equal(t, 1, loader.numCalls)

	clock.Advance(299 * time.Second)
	for i := 0; i < 5; i++ {
		_, err := mc.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loader.numCalls)
}

func TestGetAfterPutDoesNoIO(t *testing.T) {
	loader := &fakeLoader{models: []*model.TrainedModel{newModel("stored")}}
	mc, clock := newTestCache(loader)
	mc.Put(newModel("local"))
	clock.Advance(time.Minute)
	tm, err := mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", tm.Metadata.Name)
	assert.Equal(t, 0, loader.numCalls)
}

func TestGetExpiredTriggersExactlyOneRead(t *testing.T) {
	loader := &fakeLoader{models: []*model.TrainedModel{newModel("m1"), newModel("m2")}}
	mc, clock := newTestCache(loader)
	_, err := mc.Get(context.Background())
	require.NoError(t, err)

	clock.Advance(300 * time.Second)
	tm, err := mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loader.numCalls)
	assert.Equal(t, "m2", tm.Metadata.Name)

	_, err = mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loader.numCalls)
}

func TestGetEmptyAndFailingLoader(t *testing.T) {
	loader := &fakeLoader{err: errors.New("store down")}
	mc, _ := newTestCache(loader)
	_, err := mc.Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, loader.numCalls)
	assert.Equal(t, StateEmpty, mc.Status().State)
	assert.Equal(t, "store down", mc.Status().LastError)
}

func TestGetServesStaleOnFailure(t *testing.T) {
	loader := &fakeLoader{models: []*model.TrainedModel{newModel("m1")}}
	mc, clock := newTestCache(loader)
	_, err := mc.Get(context.Background())
	require.NoError(t, err)

	loader.err = errors.New("timeout")
	clock.Advance(10 * time.Minute)
	tm, err := mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m1", tm.Metadata.Name)
	assert.Equal(t, 2, loader.numCalls)

	st := mc.Status()
	assert.Equal(t, StateExpired, st.State)
	assert.True(t, st.StaleServe)

	// no new attempt until the failed one is at least loadTimeout old
	_, err = mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loader.numCalls)

	clock.Advance(DefaultLoadTimeout)
	_, err = mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, loader.numCalls)

	loader.err = nil
	clock.Advance(DefaultLoadTimeout)
	_, err = mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, loader.numCalls)
	assert.False(t, mc.Status().StaleServe)
}

// hangingLoader blocks until the load context is done
type hangingLoader struct {
	numCalls atomic.Int32
	started  chan struct{}
}

func (hl *hangingLoader) LoadLatest(ctx context.Context) (*model.TrainedModel, error) {
	if hl.numCalls.Add(1) == 1 {
		close(hl.started)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHangingStoreDoesNotBlockExpiredCache(t *testing.T) {
	loader := &hangingLoader{started: make(chan struct{})}
	clock := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewModelCache(
		loader, WithClock(clock.Now), WithTTL(300*time.Second), WithLoadTimeout(500*time.Millisecond))
	mc.Put(newModel("m1"))
	clock.Advance(301 * time.Second)

	refillDone := make(chan error, 1)
	go func() {
		_, err := mc.Get(context.Background())
		refillDone <- err
	}()
	<-loader.started

	const numCallers = 8
	var wg sync.WaitGroup
	names := make([]string, numCallers)
	t0 := time.Now()
	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tm, err := mc.Get(context.Background())
			if err == nil {
				names[i] = tm.Metadata.Name
			}
		}(i)
	}
	wg.Wait()
	assert.Less(t, time.Since(t0), 400*time.Millisecond)
	for _, name := range names {
		assert.Equal(t, "m1", name)
	}
	require.NoError(t, <-refillDone)
	assert.Equal(t, int32(1), loader.numCalls.Load())
	assert.True(t, mc.Status().StaleServe)
}

func TestEmptyCacheCallersShareOneLoad(t *testing.T) {
	loader := &hangingLoader{started: make(chan struct{})}
	mc := NewModelCache(loader, WithLoadTimeout(100*time.Millisecond))

	const numCallers = 8
	var wg sync.WaitGroup
	errs := make([]error, numCallers)
	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mc.Get(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, int32(1), loader.numCalls.Load())
}

func TestStatus(t *testing.T) {
	mc, clock := newTestCache(&fakeLoader{})
	assert.Equal(t, StateEmpty, mc.Status().State)
	mc.Put(newModel("m1"))
	clock.Advance(30 * time.Second)
	st := mc.Status()
	assert.Equal(t, StatePopulated, st.State)
	assert.Equal(t, 30.0, st.AgeSecs)
	assert.Equal(t, 300.0, st.TTLSecs)
	require.NotNil(t, st.Metadata)
	assert.Equal(t, "m1", st.Metadata.Name)

	mc.Invalidate()
	assert.Equal(t, StateEmpty, mc.Status().State)
}

func TestDefaultTTL(t *testing.T) {
	mc := NewModelCache(&fakeLoader{})
	assert.Equal(t, 300*time.Second, mc.TTL())
}

type gatedLoader struct {
	started chan struct{}
	release chan struct{}
	model   *model.TrainedModel
}

func (gl *gatedLoader) LoadLatest(ctx context.Context) (*model.TrainedModel, error) {
	close(gl.started)
	<-gl.release
	return gl.model, nil
}

func TestRefillDoesNotReplaceNewerPut(t *testing.T) {
	loader := &gatedLoader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		model:   newModel("stored"),
	}
	mc := NewModelCache(loader)
	result := make(chan *model.TrainedModel, 1)
	go func() {
		tm, err := mc.Get(context.Background())
		if err != nil {
			tm = nil
		}
		result <- tm
	}()
	<-loader.started
	mc.Put(newModel("local"))
	close(loader.release)

	tm := <-result
	require.NotNil(t, tm)
	assert.Equal(t, "local", tm.Metadata.Name)
	tm, err := mc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", tm.Metadata.Name)
}
