package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/cache"
	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
	"github.com/andrewimpellitteri/awning-wo-sub000/eval"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/registry"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/andrewimpellitteri/awning-wo-sub000/prediction"
	"github.com/andrewimpellitteri/awning-wo-sub000/training"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

var now = time.Date(2024, 12, 31, 9, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func history(numClosed int) []orders.Record {
	ans := make([]orders.Record, 0, numClosed+2)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < numClosed; i++ {
		intake := start.Add(time.Duration(i*9) * 24 * time.Hour)
		completion := intake.Add(time.Duration(4+i%5) * 24 * time.Hour)
		ans = append(ans, orders.Record{
			ID:             fmt.Sprintf("wo%d", i),
			CustomerID:     fmt.Sprintf("c%d", i%3),
			IntakeDate:     &intake,
			CompletionDate: &completion,
			RushOrder:      i%2 == 0,
		})
	}
	openIntake := now.Add(-48 * time.Hour)
	ans = append(
		ans,
		orders.Record{ID: "open1", CustomerID: "c1", IntakeDate: &openIntake, RushOrder: true},
		orders.Record{ID: "open2", CustomerID: "c2", IntakeDate: &openIntake},
	)
	return ans
}

func newTestServer(secret string, records []orders.Record) *apiServer {
	clock := func() time.Time { return now }
	store := artifact.NewMemoryStore()
	src := &orders.StaticSource{Records: records}
	models := cache.NewModelCache(&registry.StoreLoader{Store: store}, cache.WithClock(clock))
	conf := &cnf.Conf{CronSecret: secret}
	conf.Retention.KeepScheduled = 5
	return &apiServer{
		conf:    conf,
		version: cnf.VersionInfo{Version: "1.0.0"},
		comps: Components{
			Store:     store,
			Models:    models,
			Trainer:   training.NewTrainer(src, store, models, training.DefaultOptions(), clock),
			Predictor: prediction.NewService(models, store, src, 3, clock),
			Evaluator: eval.NewEvaluator(store, src, clock),
		},
	}
}

func doRequest(engine *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeFailure(t *testing.T, w *httptest.ResponseRecorder) failure {
	var ans failure
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ans))
	return ans
}

func TestVersion(t *testing.T) {
	engine := newTestServer(testSecret, nil).routes()
	w := doRequest(engine, http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "1.0.0")
}

func TestScheduledTrainRequiresSecret(t *testing.T) {
	engine := newTestServer(testSecret, history(20)).routes()

	w := doRequest(engine, http.MethodPost, "/train/scheduled", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(engine, http.MethodPost, "/train/scheduled", "", map[string]string{cronSecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(engine, http.MethodPost, "/train/scheduled", "", map[string]string{cronSecretHeader: testSecret})
	require.Equal(t, http.StatusOK, w.Code)
	var resp trainingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "turnaround_cron_20241231T090000", resp.ModelName)
	assert.Equal(t, "cron", resp.Metadata.TrainingMode)
}

func TestSecretBodySizeIsLimited(t *testing.T) {
	engine := newTestServer(testSecret, history(20)).routes()
	padding := strings.Repeat(" ", maxSecretBodySize)
	body := fmt.Sprintf(`{"secret": "%s"%s}`, testSecret, padding)
	w := doRequest(engine, http.MethodPost, "/train/scheduled", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request_too_large", decodeFailure(t, w).Reason)

	w = doRequest(engine, http.MethodPost, "/train/scheduled", fmt.Sprintf(`{"secret": "%s"}`, testSecret), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGatedEndpointsDisabledWithoutSecret(t *testing.T) {
	engine := newTestServer("", history(20)).routes()
	for _, path := range []string{"/train/scheduled", "/snapshots", "/cleanup"} {
		w := doRequest(engine, http.MethodPost, path, "", map[string]string{cronSecretHeader: ""})
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	engine := newTestServer(testSecret, history(3)).routes()
	w := doRequest(engine, http.MethodPost, "/train", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	f := decodeFailure(t, w)
	assert.Equal(t, "insufficient_data", f.Reason)
	assert.False(t, f.Timestamp.IsZero())
}

func TestPredictWithoutModel(t *testing.T) {
	engine := newTestServer(testSecret, history(20)).routes()
	w := doRequest(engine, http.MethodPost, "/predict", `{"id": "x1", "intakeDate": "2024-12-30"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "model_unavailable", decodeFailure(t, w).Reason)
}

func TestTrainAndPredict(t *testing.T) {
	engine := newTestServer(testSecret, history(20)).routes()
	w := doRequest(engine, http.MethodPost, "/train", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(
		engine, http.MethodPost, "/predict",
		`{"id": "x1", "customerId": "c1", "intakeDate": "2024-12-30", "rushOrder": true}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pred prediction.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
	assert.Equal(t, "x1", pred.OrderID)
	assert.GreaterOrEqual(t, pred.Days, 0.0)
	assert.InDelta(t, pred.Days+3, pred.Upper, 1e-9)

	w = doRequest(engine, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st cache.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, cache.StatePopulated, st.State)
}

func TestPredictInvalidBody(t *testing.T) {
	engine := newTestServer(testSecret, history(20)).routes()
	w := doRequest(engine, http.MethodPost, "/predict", `{"id": `, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotIsNotOverwritten(t *testing.T) {
	engine := newTestServer(testSecret, history(20)).routes()
	w := doRequest(engine, http.MethodPost, "/train/scheduled", "", map[string]string{cronSecretHeader: testSecret})
	require.Equal(t, http.StatusOK, w.Code)

	body := fmt.Sprintf(`{"secret": "%s"}`, testSecret)
	w = doRequest(engine, http.MethodPost, "/snapshots", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary prediction.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Generated)
	assert.Equal(t, "2024-12-31", summary.Date)

	w = doRequest(engine, http.MethodPost, "/snapshots", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "snapshot_exists", decodeFailure(t, w).Reason)

	w = doRequest(engine, http.MethodGet, "/evaluation", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report eval.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Snapshots, 1)
	assert.Equal(t, 2, report.Snapshots[0].NumOpen)
}

func TestCleanup(t *testing.T) {
	engine := newTestServer(testSecret, history(20)).routes()
	headers := map[string]string{cronSecretHeader: testSecret}

	w := doRequest(engine, http.MethodPost, "/cleanup?keep=0", "", headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(engine, http.MethodPost, "/cleanup?keep=2", "", headers)
	require.Equal(t, http.StatusOK, w.Code)
	var resp cleanupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Kept)
	assert.Empty(t, resp.Deleted)
}

func TestMetricsEndpoint(t *testing.T) {
	engine := newTestServer(testSecret, nil).routes()
	w := doRequest(engine, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "turnaround_")
}
