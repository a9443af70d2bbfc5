package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/leaderboard"
	"github.com/locallift/backend/internal/models"
	"github.com/locallift/backend/internal/report"
)

type Store interface {
	Ping(ctx context.Context) error
	UpsertPreference(ctx context.Context, p models.ReportDeliveryPreference) (models.ReportDeliveryPreference, error)
	InboxItems(ctx context.Context, clientID string) ([]models.InboxItem, error)
}

type Handler struct {
	Store       Store
	Leaderboard *leaderboard.Service
	Reports     *report.Service
	Validator   *validator.Validate
	Logger      zerolog.Logger
	Now         func() time.Time
	NewID       func() string
}

func New(store Store, boards *leaderboard.Service, reports *report.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		Store:       store,
		Leaderboard: boards,
		Reports:     reports,
		Validator:   validator.New(),
		Logger:      logger,
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

// Healthz godoc
// @Summary Liveness and database check
// @Tags ops
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} ErrorResponse
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

// writeAppError maps err's kind onto the error envelope. Internal errors are
// logged and their cause is not exposed.
func (h *Handler) writeAppError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).
			Str("kind", string(kind)).
			Str("path", c.FullPath()).
			Msg("request failed")
		writeError(c, status, string(kind), "Internal error", nil)
		return
	}
	writeError(c, status, string(kind), err.Error(), nil)
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// optionalPeriod parses the named query parameter as a period. ok is false
// when it is absent.
func optionalPeriod(c *gin.Context, name string) (period time.Time, ok bool, err error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, false, nil
	}
	period, err = models.ParsePeriod(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return period, true, nil
}
