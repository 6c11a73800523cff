package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/feats"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/ridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	artifact.Store
	numDeletes int
}

func (cs *countingStore) Delete(ctx context.Context, keys []string) error {
	cs.numDeletes++
	return cs.Store.Delete(ctx, keys)
}

func trainedModel(mode string, trainedAt time.Time, intercept float64) *model.TrainedModel {
	return &model.TrainedModel{
		Regressor: &ridge.Model{Lambda: 1, Coefficients: []float64{2}, Intercept: intercept},
		CustomerStats: map[string]feats.CustomerStats{
			"c1": {Mean: 3, Std: 1, Count: 2},
		},
		Metadata: model.Metadata{
			ConfigName:     "turnaround",
			ModelType:      ridge.ModelType,
			FeatureColumns: []string{feats.RushAny},
			TrainedAt:      trainedAt,
			TrainingMode:   mode,
		},
	}
}

func TestModelName(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)
	assert.Equal(t, "turnaround_cron_20240501T102030", ModelName("turnaround", model.ModeCron, ts))
	assert.Equal(t, "turnaround_20240501T102030", ModelName("turnaround", model.ModeInteractive, ts))
	assert.True(t, IsScheduled("turnaround_cron_20240501T102030"))
	assert.False(t, IsScheduled("turnaround_20240501T102030"))
}

func TestEncodeDecode(t *testing.T) {
	tm := trainedModel(model.ModeInteractive, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 1.5)
	bin, meta, err := Encode(tm)
	require.NoError(t, err)
	restored, err := Decode(bin, meta)
	require.NoError(t, err)
	assert.Equal(t, tm.Metadata.FeatureColumns, restored.Metadata.FeatureColumns)
	assert.True(t, tm.Metadata.TrainedAt.Equal(restored.Metadata.TrainedAt))
	assert.Equal(t, tm.CustomerStats, restored.CustomerStats)
	assert.Equal(t, tm.Regressor.Predict([]float64{1}), restored.Regressor.Predict([]float64{1}))
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("garbage"), []byte("{}"))
	assert.Error(t, err)
}

func TestLoadLatestPrefersScheduled(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	curr := base
	store.SetClock(func() time.Time { return curr })

	_, err := Publish(ctx, store, trainedModel(model.ModeCron, base, 1))
	require.NoError(t, err)
	curr = base.Add(time.Hour)
	_, err = Publish(ctx, store, trainedModel(model.ModeInteractive, base.Add(time.Hour), 2))
	require.NoError(t, err)

	tm, err := LoadLatest(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "turnaround_cron_20240501T000000", tm.Metadata.Name)
	assert.Equal(t, model.ModeCron, tm.Metadata.TrainingMode)
}

func TestLoadLatestFallsBackToAnyKind(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	curr := base
	store.SetClock(func() time.Time { return curr })
	_, err := Publish(ctx, store, trainedModel(model.ModeInteractive, base, 1))
	require.NoError(t, err)
	curr = base.Add(time.Minute)
	_, err = Publish(ctx, store, trainedModel(model.ModeInteractive, base.Add(time.Minute), 2))
	require.NoError(t, err)

	tm, err := LoadLatest(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "turnaround_20240501T000100", tm.Metadata.Name)
}

func TestLoadLatestEmptyStore(t *testing.T) {
	_, err := LoadLatest(context.Background(), artifact.NewMemoryStore())
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestLoadLatestMissingMetadata(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	name, err := Publish(ctx, store, trainedModel(model.ModeCron, time.Now(), 1))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, []string{artifact.MetadataKey(name)}))
	_, err = LoadLatest(ctx, store)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestLoadLatestSkipsModelWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curr := base
	store.SetClock(func() time.Time { return curr })
	_, err := Publish(ctx, store, trainedModel(model.ModeCron, base, 1))
	require.NoError(t, err)

	// a newer run which got only as far as its binary
	curr = base.Add(time.Hour)
	bin, _, err := Encode(trainedModel(model.ModeCron, curr, 2))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, artifact.ModelKey("turnaround_cron_20240101T010000"), bin))

	name, err := SelectLatest(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "turnaround_cron_20240101T000000", name)
	tm, err := LoadLatest(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "turnaround_cron_20240101T000000", tm.Metadata.Name)
}

// metadataFailingStore rejects writes of model metadata
type metadataFailingStore struct {
	artifact.Store
}

func (ms *metadataFailingStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.HasSuffix(key, artifact.MetadataSuffix) {
		return errors.New("disk full")
	}
	return ms.Store.Put(ctx, key, data)
}

func TestPublishRemovesBinaryWhenMetadataFails(t *testing.T) {
	ctx := context.Background()
	mem := artifact.NewMemoryStore()
	_, err := Publish(
		ctx, &metadataFailingStore{Store: mem},
		trainedModel(model.ModeCron, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1))
	assert.Error(t, err)
	items, err := mem.List(ctx, artifact.ModelsPrefix)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPublishSameSecondKeepsBothModels(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := trainedModel(model.ModeCron, ts, 1)
	first.Metadata.RunID = "3f2a9c1e-0000-4000-8000-000000000001"
	second := trainedModel(model.ModeCron, ts.Add(300*time.Millisecond), 2)
	second.Metadata.RunID = "7b41d0aa-0000-4000-8000-000000000002"

	name1, err := Publish(ctx, store, first)
	require.NoError(t, err)
	name2, err := Publish(ctx, store, second)
	require.NoError(t, err)
	assert.Equal(t, "turnaround_cron_20240101T000000", name1)
	assert.Equal(t, "turnaround_cron_20240101T000000_7b41d0aa", name2)
	assert.True(t, IsScheduled(name2))

	for i, name := range []string{name1, name2} {
		tm, err := Load(ctx, store, name)
		require.NoError(t, err)
		assert.Equal(t, name, tm.Metadata.Name)
		assert.Equal(t, float64(i+1), tm.Regressor.(*ridge.Model).Intercept)
	}
}

func TestCleanupKeepsNewestScheduled(t *testing.T) {
	ctx := context.Background()
	mem := artifact.NewMemoryStore()
	store := &countingStore{Store: mem}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * 24 * time.Hour)
		mem.SetClock(func() time.Time { return ts })
		_, err := Publish(ctx, store, trainedModel(model.ModeCron, ts, float64(i)))
		require.NoError(t, err)
	}
	_, err := Publish(ctx, store, trainedModel(model.ModeInteractive, base, 9))
	require.NoError(t, err)

	deleted, err := Cleanup(ctx, store, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, store.numDeletes)
	assert.ElementsMatch(
		t,
		[]string{
			"models/turnaround_cron_20240502T000000.msgpack",
			"models/turnaround_cron_20240502T000000_metadata.json",
			"models/turnaround_cron_20240501T000000.msgpack",
			"models/turnaround_cron_20240501T000000_metadata.json",
		},
		deleted,
	)
	items, err := mem.List(ctx, artifact.ModelsPrefix)
	require.NoError(t, err)
	assert.Len(t, items, 6)
}

func TestCleanupNothingToDo(t *testing.T) {
	store := &countingStore{Store: artifact.NewMemoryStore()}
	deleted, err := Cleanup(context.Background(), store, 3)
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Equal(t, 0, store.numDeletes)
}
