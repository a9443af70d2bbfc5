package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

type PreferenceRequest struct {
	DeliveryDay  string   `json:"delivery_day" validate:"required"`
	DeliveryTime string   `json:"delivery_time" validate:"required"`
	Timezone     string   `json:"timezone" validate:"required"`
	Recipients   []string `json:"recipients" validate:"max=20,dive,required"`
	IsActive     *bool    `json:"is_active"`
}

// recipientTags are the validator rules each method applies to recipients.
var recipientTags = map[models.DeliveryMethod]string{
	models.DeliveryEmail: "email",
	models.DeliverySMS:   "e164",
	models.DeliveryAPI:   "url,startswith=http",
}

// PreferenceUpsert godoc
// @Summary Create or replace a client's delivery preference for a method
// @Tags delivery
// @Accept json
// @Produce json
// @Param client_id path string true "Client ID"
// @Param method path string true "email, sms, dashboard or api"
// @Param body body PreferenceRequest true "Preference"
// @Success 200 {object} models.ReportDeliveryPreference
// @Failure 400 {object} ErrorResponse
// @Router /clients/{client_id}/delivery-preferences/{method} [put]
func (h *Handler) PreferenceUpsert(c *gin.Context) {
	method, err := models.ParseDeliveryMethod(c.Param("method"))
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	var req PreferenceRequest
	if !h.bind(c, &req) {
		return
	}

	pref, err := h.preference(c.Param("client_id"), method, req)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	stored, err := h.Store.UpsertPreference(c.Request.Context(), pref)
	if err != nil {
		h.writeAppError(c, err)
		return
	}
	h.Logger.Info().
		Str("client_id", stored.ClientID).
		Str("method", string(stored.Method)).
		Bool("active", stored.IsActive).
		Msg("delivery preference saved")
	c.JSON(http.StatusOK, stored)
}

func (h *Handler) preference(clientID string, method models.DeliveryMethod, req PreferenceRequest) (models.ReportDeliveryPreference, error) {
	day, err := models.ParseWeekday(req.DeliveryDay)
	if err != nil {
		return models.ReportDeliveryPreference{}, err
	}
	hour, minute, err := models.ParseClock(req.DeliveryTime)
	if err != nil {
		return models.ReportDeliveryPreference{}, err
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return models.ReportDeliveryPreference{}, apperr.Validation("unknown timezone %q", req.Timezone)
	}

	recipients := req.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	if tag, ok := recipientTags[method]; ok {
		if len(recipients) == 0 {
			return models.ReportDeliveryPreference{}, apperr.Validation("%s delivery needs at least one recipient", method)
		}
		for _, r := range recipients {
			if err := h.Validator.Var(r, tag); err != nil {
				return models.ReportDeliveryPreference{}, apperr.Validation("recipient %q is not valid for %s delivery", r, method)
			}
		}
	}

	now := h.now()
	active := req.IsActive == nil || *req.IsActive
	return models.ReportDeliveryPreference{
		ID:           h.NewID(),
		ClientID:     clientID,
		Method:       method,
		DeliveryDay:  day,
		DeliveryTime: formatClock(hour, minute),
		Timezone:     req.Timezone,
		Recipients:   recipients,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func formatClock(hour, minute int) string {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04")
}
