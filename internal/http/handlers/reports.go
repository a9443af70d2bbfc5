package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

// ReportLatest godoc
// @Summary Latest weekly report of a client
// @Tags reports
// @Produce json
// @Param client_id path string true "Client ID"
// @Success 200 {object} models.WeeklyReport
// @Failure 404 {object} ErrorResponse
// @Router /clients/{client_id}/reports/latest [get]
func (h *Handler) ReportLatest(c *gin.Context) {
	r, err := h.Reports.Latest(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ReportHistory godoc
// @Summary Report history of a client, oldest first
// @Tags reports
// @Produce json
// @Param client_id path string true "Client ID"
// @Param since query string false "YYYY-MM-DD or RFC 3339"
// @Success 200 {array} models.WeeklyReport
// @Failure 400 {object} ErrorResponse
// @Router /clients/{client_id}/reports [get]
func (h *Handler) ReportHistory(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			h.writeAppError(c, err)
			return
		}
		since = t
	}
	reports, err := h.Reports.History(c.Request.Context(), c.Param("client_id"), since)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	if reports == nil {
		reports = []models.WeeklyReport{}
	}
	c.JSON(http.StatusOK, reports)
}

func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Validation("since %q must be YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

// ReportBuild godoc
// @Summary Build a client's report for a period
// @Description Returns the existing report when one was already built for the week
// @Tags reports
// @Produce json
// @Param client_id path string true "Client ID"
// @Param period query string true "YYYY-MM-DD"
// @Success 200 {object} models.WeeklyReport
// @Failure 400 {object} ErrorResponse
// @Router /clients/{client_id}/reports [post]
func (h *Handler) ReportBuild(c *gin.Context) {
	period, ok, err := optionalPeriod(c, "period")
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	if !ok {
		h.writeAppError(c, apperr.Validation("period is required"))
		return
	}
	r, err := h.Reports.Build(c.Request.Context(), c.Param("client_id"), period)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ReportViewed godoc
// @Summary Mark a delivered report as viewed
// @Tags reports
// @Param report_id path string true "Report ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /reports/{report_id}/viewed [post]
func (h *Handler) ReportViewed(c *gin.Context) {
	if _, err := h.Reports.MarkViewed(c.Request.Context(), c.Param("report_id")); err != nil {
		h.writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Inbox godoc
// @Summary Dashboard inbox of a client
// @Tags reports
// @Produce json
// @Param client_id path string true "Client ID"
// @Success 200 {array} models.InboxItem
// @Router /clients/{client_id}/inbox [get]
func (h *Handler) Inbox(c *gin.Context) {
	items, err := h.Store.InboxItems(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	if items == nil {
		items = []models.InboxItem{}
	}
	c.JSON(http.StatusOK, items)
}
