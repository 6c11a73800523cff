package prediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/feats"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/ridge"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now       = time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	trainedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

type staticModels struct {
	tm *model.TrainedModel
}

func (sm *staticModels) Get(ctx context.Context) (*model.TrainedModel, error) {
	if sm.tm == nil {
		return nil, errors.New("empty")
	}
	return sm.tm, nil
}

func testModel() *model.TrainedModel {
	return &model.TrainedModel{
		Regressor: &ridge.Model{Coefficients: []float64{2, 0.5}, Intercept: 5},
		CustomerStats: map[string]feats.CustomerStats{
			"c1": {Mean: 4, Std: 1, Count: 10},
		},
		Metadata: model.Metadata{
			Name:           "turnaround_cron_20240601T000000",
			FeatureColumns: []string{feats.RushAny, feats.CustomerMeanDays},
			TrainedAt:      trainedAt,
		},
	}
}

func ptr(t time.Time) *time.Time {
	return &t
}

func TestPredictOne(t *testing.T) {
	svc := NewService(&staticModels{tm: testModel()}, nil, nil, 3, func() time.Time { return now })
	pred, err := svc.PredictOne(context.Background(), orders.Record{
		ID:         "wo1",
		CustomerID: "c1",
		IntakeDate: ptr(now.Add(-24 * time.Hour)),
		RushOrder:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "wo1", pred.OrderID)
	assert.InDelta(t, 9.0, pred.Days, 1e-9)
	assert.InDelta(t, 6.0, pred.Lower, 1e-9)
	assert.InDelta(t, 12.0, pred.Upper, 1e-9)
	assert.Equal(t, "turnaround_cron_20240601T000000", pred.ModelName)
	assert.True(t, pred.ModelTrainedAt.Equal(trainedAt))
}

func TestPredictOneClampsAtZero(t *testing.T) {
	tm := testModel()
	tm.Regressor = &ridge.Model{Coefficients: []float64{-10, 0}, Intercept: 1}
	svc := NewService(&staticModels{tm: tm}, nil, nil, 3, func() time.Time { return now })
	pred, err := svc.PredictOne(context.Background(), orders.Record{ID: "x", FirmRush: true})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pred.Days)
	assert.Equal(t, 0.0, pred.Lower)
	assert.Equal(t, 3.0, pred.Upper)
}

func TestPredictOneNoModel(t *testing.T) {
	svc := NewService(&staticModels{}, nil, nil, 3, nil)
	_, err := svc.PredictOne(context.Background(), orders.Record{ID: "x"})
	assert.ErrorIs(t, err, ErrNoModel)
}

func openOrders() []orders.Record {
	return []orders.Record{
		{ID: "wo1", CustomerID: "c1", IntakeDate: ptr(now.Add(-48 * time.Hour)), RushOrder: true},
		{ID: "wo2", CustomerID: "c9", IntakeDate: ptr(now.Add(-24 * time.Hour))},
		{ID: "wo3"},
		{ID: "wo4", IntakeDate: ptr(now.Add(-72 * time.Hour)), CompletionDate: ptr(now)},
	}
}

func TestPredictBatchSkips(t *testing.T) {
	svc := NewService(&staticModels{tm: testModel()}, nil, nil, 3, nil)
	results := svc.PredictBatch(testModel(), openOrders(), now)
	require.Len(t, results, 4)
	assert.False(t, results[0].Skipped())
	assert.InDelta(t, 9.0, results[0].Prediction.Days, 1e-9)
	assert.False(t, results[1].Skipped())
	assert.InDelta(t, 5.0, results[1].Prediction.Days, 1e-9)
	assert.Equal(t, SkipNoFeatures, results[2].Skip)
	assert.Nil(t, results[2].Prediction)
	assert.Equal(t, SkipClosed, results[3].Skip)
}

func TestGenerateSnapshot(t *testing.T) {
	store := artifact.NewMemoryStore()
	src := &orders.StaticSource{Records: openOrders()}
	svc := NewService(&staticModels{tm: testModel()}, store, src, 3, func() time.Time { return now })

	summary, err := svc.GenerateSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "predictions/2024-06-10.csv", summary.Key)
	assert.Equal(t, 3, summary.NumOpen)
	assert.Equal(t, 2, summary.Generated)
	assert.Equal(t, 1, summary.Skipped)

	infos, err := ListSnapshots(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	snap, err := ReadSnapshot(context.Background(), store, infos[0])
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "wo1", snap.Rows[0].OrderID)
	assert.InDelta(t, 9.0, snap.Rows[0].PredictedDays, 1e-9)
	assert.Equal(t, "turnaround_cron_20240601T000000", snap.Rows[0].ModelName)
	assert.True(t, snap.Rows[0].ModelTrainedAt.Equal(trainedAt))
	assert.True(t, snap.Rows[0].GeneratedAt.Equal(now))
}

func TestGenerateSnapshotIsNotOverwritten(t *testing.T) {
	store := artifact.NewMemoryStore()
	src := &orders.StaticSource{Records: openOrders()}
	svc := NewService(&staticModels{tm: testModel()}, store, src, 3, func() time.Time { return now })
	_, err := svc.GenerateSnapshot(context.Background())
	require.NoError(t, err)
	before, err := store.Get(context.Background(), "predictions/2024-06-10.csv")
	require.NoError(t, err)

	_, err = svc.GenerateSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotExists)
	after, err := store.Get(context.Background(), "predictions/2024-06-10.csv")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestGenerateSnapshotNoModel(t *testing.T) {
	store := artifact.NewMemoryStore()
	svc := NewService(&staticModels{}, store, &orders.StaticSource{}, 3, func() time.Time { return now })
	_, err := svc.GenerateSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoModel)
	items, err := store.List(context.Background(), artifact.PredictionsPrefix)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDecodeSnapshotInvalidRows(t *testing.T) {
	data := []byte("order_id,predicted_days,model_name,model_trained_at,generated_at\n" +
		"wo1,4.5,m1,2024-06-01T00:00:00Z,2024-06-10T08:00:00Z\n" +
		"wo2,abc,m1,2024-06-01T00:00:00Z,2024-06-10T08:00:00Z\n" +
		"wo3,2\n")
	rows, numInvalid, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2, numInvalid)

	_, _, err = DecodeSnapshot([]byte("foo,bar\n"))
	assert.Error(t, err)
}
