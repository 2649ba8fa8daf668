package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-reminder-agent/internal/services"
)

// RunRemindersRequest tunes a reminder batch. Every field is optional.
type RunRemindersRequest struct {
	TenantID string `json:"tenantId,omitempty" example:"salon-42"`
	// Look-ahead in hours; 0 uses each tenant's reminder_hours_before
	WindowHours int `json:"windowHours,omitempty" example:"24" minimum:"0" maximum:"168"`
	Limit       int `json:"limit,omitempty" example:"500" minimum:"0" maximum:"5000"`
}

// RunReengagementRequest tunes a re-engagement batch. Every field is optional.
type RunReengagementRequest struct {
	TenantID string `json:"tenantId,omitempty" example:"salon-42"`
	// Minimum days since last visit; 0 uses each tenant's reengagement_days
	Days       int    `json:"days,omitempty" example:"90" minimum:"0"`
	Limit      int    `json:"limit,omitempty" example:"500" minimum:"0" maximum:"5000"`
	CampaignID string `json:"campaignId,omitempty" example:"2026-03"`
}

// BatchResponse acknowledges an enqueued batch.
type BatchResponse struct {
	OK         bool   `json:"ok" example:"true"`
	Enqueued   int    `json:"enqueued" example:"12"`
	Skipped    int    `json:"skipped" example:"3"`
	CampaignID string `json:"campaign_id,omitempty" example:"2026-03"`
}

// bindOptional decodes a JSON body when there is one.
func bindOptional(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// RunReminders godoc
// @ID          runReminders
// @Summary     Enqueue due reminders now
// @Description Enqueues one reminder job per upcoming appointment. Jobs run asynchronously.
// @Tags        Batches
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RunRemindersRequest  false  "Batch parameters"
// @Success     202  {object}  handlers.BatchResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /reminders/run [post]
func (h *Handlers) RunReminders(c *gin.Context) {
	var req RunRemindersRequest
	if err := bindOptional(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.WindowHours < 0 || time.Duration(req.WindowHours)*time.Hour > services.MaxReminderLookahead {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "windowHours must be between 0 and 168")
		return
	}
	if req.Limit < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be >= 0")
		return
	}
	res, err := h.batches.RunReminders(c.Request.Context(), services.ReminderBatch{
		TenantID: strings.TrimSpace(req.TenantID),
		Window:   time.Duration(req.WindowHours) * time.Hour,
		Limit:    req.Limit,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, err.Error())
		return
	}
	ok(c, http.StatusAccepted, BatchResponse{OK: true, Enqueued: res.Enqueued, Skipped: res.Skipped})
}

// RunReengagement godoc
// @ID          runReengagement
// @Summary     Enqueue re-engagement messages now
// @Description Enqueues one job per inactive client, at most once per client and campaign.
// @Tags        Batches
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RunReengagementRequest  false  "Batch parameters"
// @Success     202  {object}  handlers.BatchResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /reengagement/run [post]
func (h *Handlers) RunReengagement(c *gin.Context) {
	var req RunReengagementRequest
	if err := bindOptional(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Days < 0 || req.Limit < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "days and limit must be >= 0")
		return
	}
	res, err := h.batches.RunReengagement(c.Request.Context(), services.ReengagementBatch{
		TenantID:   strings.TrimSpace(req.TenantID),
		Days:       req.Days,
		Limit:      req.Limit,
		CampaignID: strings.TrimSpace(req.CampaignID),
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, err.Error())
		return
	}
	ok(c, http.StatusAccepted, BatchResponse{OK: true, Enqueued: res.Enqueued, Skipped: res.Skipped, CampaignID: res.CampaignID})
}
