package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

type RegionSnapshotRequest struct {
	RegionID          string   `json:"region_id" validate:"required,max=128"`
	PeriodStart       string   `json:"period_start" validate:"required"`
	TotalClients      *int     `json:"total_clients" validate:"required,gte=0"`
	ActiveClients     *int     `json:"active_clients" validate:"required,gte=0"`
	AverageEngagement *float64 `json:"average_engagement" validate:"required,gte=0,lte=1"`
	TotalRevenue      *float64 `json:"total_revenue" validate:"required,gte=0"`
	YoYGrowth         *float64 `json:"yoy_growth" validate:"required"`
	CapturedAt        string   `json:"captured_at"`
}

type ClientSampleRequest struct {
	ClientID    string   `json:"client_id" validate:"required,max=128"`
	MetricKind  string   `json:"metric_kind" validate:"required"`
	PeriodStart string   `json:"period_start" validate:"required"`
	Value       *float64 `json:"value" validate:"required,gte=0"`
	Benchmark   *float64 `json:"benchmark" validate:"omitempty,gte=0"`
}

type IngestResponse struct {
	Status string `json:"status"`
}

// bind decodes and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, string(apperr.KindValidation), "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(dst); err != nil {
		writeError(c, http.StatusBadRequest, string(apperr.KindValidation), "Validation failed", err.Error())
		return false
	}
	return true
}

func writeIngested(c *gin.Context, created bool) {
	if created {
		c.JSON(http.StatusCreated, IngestResponse{Status: "created"})
		return
	}
	c.JSON(http.StatusOK, IngestResponse{Status: "unchanged"})
}

// IngestRegionSnapshot godoc
// @Summary Ingest a regional stats snapshot
// @Tags ingest
// @Accept json
// @Produce json
// @Param body body RegionSnapshotRequest true "Snapshot"
// @Success 201 {object} IngestResponse
// @Success 200 {object} IngestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /ingest/region_snapshot [post]
func (h *Handler) IngestRegionSnapshot(c *gin.Context) {
	var req RegionSnapshotRequest
	if !h.bind(c, &req) {
		return
	}
	period, err := models.ParsePeriod(req.PeriodStart)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	var captured time.Time
	if req.CapturedAt != "" {
		if captured, err = time.Parse(time.RFC3339, req.CapturedAt); err != nil {
			h.writeAppError(c, apperr.Validation("captured_at %q must be RFC 3339", req.CapturedAt))
			return
		}
	}

	created, err := h.Leaderboard.IngestSnapshot(c.Request.Context(), models.RegionStatsSnapshot{
		RegionID:          req.RegionID,
		PeriodStart:       period,
		TotalClients:      *req.TotalClients,
		ActiveClients:     *req.ActiveClients,
		AverageEngagement: *req.AverageEngagement,
		TotalRevenue:      *req.TotalRevenue,
		YoYGrowth:         *req.YoYGrowth,
		CapturedAt:        captured,
	})
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	writeIngested(c, created)
}

// IngestClientSample godoc
// @Summary Ingest a client engagement sample
// @Tags ingest
// @Accept json
// @Produce json
// @Param body body ClientSampleRequest true "Sample"
// @Success 201 {object} IngestResponse
// @Success 200 {object} IngestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /ingest/client_sample [post]
func (h *Handler) IngestClientSample(c *gin.Context) {
	var req ClientSampleRequest
	if !h.bind(c, &req) {
		return
	}
	period, err := models.ParsePeriod(req.PeriodStart)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	created, err := h.Reports.IngestSample(c.Request.Context(), models.ClientMetricSample{
		ClientID:    req.ClientID,
		MetricKind:  models.ClientMetric(req.MetricKind),
		PeriodStart: period,
		Value:       *req.Value,
		Benchmark:   req.Benchmark,
	})
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	writeIngested(c, created)
}
