package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallift/backend/internal/config"
	"github.com/locallift/backend/internal/db"
	"github.com/locallift/backend/internal/http/handlers"
	"github.com/locallift/backend/internal/http/middleware"
	"github.com/locallift/backend/internal/leaderboard"
	"github.com/locallift/backend/internal/models"
	"github.com/locallift/backend/internal/report"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestRouter(t *testing.T) (*gin.Engine, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	logger := zerolog.Nop()
	boards := leaderboard.NewService(store, nil, logger, 10)
	reports := report.NewService(store, report.NewBuilder(store, logger, 0.05, 1.0), logger)
	h := handlers.New(store, boards, reports, logger)
	return Router(config.Config{CORSAllowed: "*", RequestTimeout: 5 * time.Second}, h), store
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error.Code
}

func snapshot(region string, revenue float64) map[string]any {
	return map[string]any{
		"region_id":          region,
		"period_start":       "2026-03-09",
		"total_clients":      10,
		"active_clients":     6,
		"average_engagement": 0.4,
		"total_revenue":      revenue,
		"yoy_growth":         0.1,
	}
}

func TestRequestIDHeader(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(middleware.RequestIDHeader))
}

func TestIngestAndLeaderboard(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/ingest/region_snapshot", snapshot("north", 500))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/ingest/region_snapshot", snapshot("north", 500))
	assert.Equal(t, http.StatusOK, w.Code, "identical retry")
	w = do(r, http.MethodPost, "/ingest/region_snapshot", snapshot("north", 501))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, w))

	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/ingest/region_snapshot", snapshot("south", 900)).Code)

	w = do(r, http.MethodGet, "/leaderboards/revenue?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var board models.Leaderboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "south", board.Entries[0].RegionID)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, models.TrendStable, board.Entries[0].Trend)
	assert.True(t, board.PeriodStart.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)))

	w = do(r, http.MethodGet, "/leaderboards/revenue?limit=1&period=2026-03-11", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	assert.Len(t, board.Entries, 1)

	w = do(r, http.MethodPost, "/leaderboards/recompute?period=2026-03-09", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/leaderboards/recompute", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeaderboardErrors(t *testing.T) {
	r, _ := newTestRouter(t)
	cases := map[string]int{
		"/leaderboards/popularity":        http.StatusBadRequest,
		"/leaderboards/revenue?limit=x":   http.StatusBadRequest,
		"/leaderboards/revenue?limit=0":   http.StatusNotFound,
		"/leaderboards/revenue?limit=101": http.StatusBadRequest,
		"/leaderboards/growth":            http.StatusNotFound,
		"/leaderboards/growth?period=x":   http.StatusBadRequest,
	}
	for path, want := range cases {
		w := do(r, http.MethodGet, path, nil)
		assert.Equal(t, want, w.Code, path)
	}
}

func TestIngestValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	bad := snapshot("north", 100)
	bad["active_clients"] = 11
	w := do(r, http.MethodPost, "/ingest/region_snapshot", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	missing := snapshot("north", 100)
	delete(missing, "total_revenue")
	w = do(r, http.MethodPost, "/ingest/region_snapshot", missing)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/ingest/client_sample", map[string]any{
		"client_id": "c1", "metric_kind": "views", "period_start": "2026-03-09", "value": 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "counts must be whole")

	w = do(r, http.MethodPost, "/ingest/client_sample", map[string]any{
		"client_id": "c1", "metric_kind": "likes", "period_start": "2026-03-09", "value": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/ingest/client_sample", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec), "malformed bodies use the validation tag")
}

func TestReportLifecycle(t *testing.T) {
	r, store := newTestRouter(t)

	for _, s := range []map[string]any{
		{"client_id": "c1", "metric_kind": "views", "period_start": "2026-03-02", "value": 100},
		{"client_id": "c1", "metric_kind": "views", "period_start": "2026-03-09", "value": 150},
	} {
		w := do(r, http.MethodPost, "/ingest/client_sample", s)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := do(r, http.MethodGet, "/clients/c1/reports/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))

	w = do(r, http.MethodPost, "/clients/c1/reports?period=2026-03-09", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var built models.WeeklyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &built))
	assert.Equal(t, 11, built.WeekNumber)
	require.Len(t, built.Metrics, 1)
	assert.Equal(t, 50.0, built.Metrics[0].ChangePercentage.Value)

	w = do(r, http.MethodPost, "/clients/c1/reports?period=2026-03-02", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/clients/c1/reports/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest models.WeeklyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, built.ID, latest.ID)

	w = do(r, http.MethodGet, "/clients/c1/reports?since=2026-03-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.WeeklyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, 10, history[0].WeekNumber)
	assert.Equal(t, 11, history[1].WeekNumber)

	w = do(r, http.MethodGet, "/clients/nobody/reports", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = do(r, http.MethodPost, "/reports/"+built.ID+"/viewed", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "generated reports cannot be viewed")

	_, err := store.MarkDelivered(context.Background(), models.Delivery{
		ReportID: built.ID, ClientID: "c1", Method: models.DeliveryDashboard,
		Week: models.ISOWeek{Year: 2026, Week: 12}, At: time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	w = do(r, http.MethodPost, "/reports/"+built.ID+"/viewed", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodPost, "/reports/"+built.ID+"/viewed", nil)
	assert.Equal(t, http.StatusNoContent, w.Code, "viewing twice is a no-op")
	w = do(r, http.MethodPost, "/reports/00000000-0000-0000-0000-000000000000/viewed", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreferencesAndInbox(t *testing.T) {
	r, store := newTestRouter(t)

	body := map[string]any{
		"delivery_day": "monday", "delivery_time": "09:00", "timezone": "UTC",
		"recipients": []string{"owner@example.com"},
	}
	w := do(r, http.MethodPut, "/clients/c1/delivery-preferences/email", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first models.ReportDeliveryPreference
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.True(t, first.IsActive)

	body["delivery_time"] = "10:30"
	w = do(r, http.MethodPut, "/clients/c1/delivery-preferences/email", body)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.ReportDeliveryPreference
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID, "upsert keeps the preference identity")
	assert.Equal(t, "10:30", second.DeliveryTime)

	prefs, err := store.ActivePreferences(context.Background())
	require.NoError(t, err)
	assert.Len(t, prefs, 1)

	for path, b := range map[string]map[string]any{
		"/clients/c1/delivery-preferences/fax":   body,
		"/clients/c1/delivery-preferences/email": {"delivery_day": "monday", "delivery_time": "09:00", "timezone": "Mars/Base", "recipients": []string{"a@b.io"}},
		"/clients/c1/delivery-preferences/sms":   {"delivery_day": "monday", "delivery_time": "09:00", "timezone": "UTC", "recipients": []string{"a@b.io"}},
	} {
		w = do(r, http.MethodPut, path, b)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w = do(r, http.MethodGet, "/clients/c1/inbox", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	require.NoError(t, store.PutInboxItem(context.Background(), models.InboxItem{
		ClientID: "c1", ReportID: "r1", Subject: "s", Body: "b", CreatedAt: time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC),
	}))
	w = do(r, http.MethodGet, "/clients/c1/inbox", nil)
	var items []models.InboxItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].ReportID)
}
