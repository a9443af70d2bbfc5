package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

// LeaderboardGet godoc
// @Summary Regional leaderboard
// @Description Current leaderboard for a region metric, or the one for a given period
// @Tags leaderboards
// @Produce json
// @Param metric_kind path string true "revenue, growth, engagement or compliance"
// @Param limit query int false "1..100, default 10"
// @Param period query string false "YYYY-MM-DD"
// @Success 200 {object} models.Leaderboard
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /leaderboards/{metric_kind} [get]
func (h *Handler) LeaderboardGet(c *gin.Context) {
	kind, err := models.ParseRegionMetric(c.Param("metric_kind"))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			h.writeAppError(c, apperr.Validation("limit %q must be an integer", raw))
			return
		}
	}
	period, ok, err := optionalPeriod(c, "period")
	if err != nil {
		h.writeAppError(c, err)
		return
	}

	var board models.Leaderboard
	if ok {
		board, err = h.Leaderboard.At(c.Request.Context(), kind, period, limit)
	} else {
		board, err = h.Leaderboard.Current(c.Request.Context(), kind, limit)
	}
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	if board.Entries == nil {
		board.Entries = []models.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, board)
}

// LeaderboardRecompute godoc
// @Summary Recompute every leaderboard for a period
// @Tags leaderboards
// @Produce json
// @Param period query string true "YYYY-MM-DD"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /leaderboards/recompute [post]
func (h *Handler) LeaderboardRecompute(c *gin.Context) {
	period, ok, err := optionalPeriod(c, "period")
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	if !ok {
		h.writeAppError(c, apperr.Validation("period is required"))
		return
	}
	if err := h.Leaderboard.RecomputePeriod(c.Request.Context(), period); err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recomputed", "period_start": period.Format("2006-01-02")})
}
