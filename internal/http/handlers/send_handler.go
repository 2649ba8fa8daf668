package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-reminder-agent/internal/http/middleware"
	"github.com/tbourn/go-reminder-agent/internal/services"
)

// SendNowRequest is a single send. Either Template or Text is required.
type SendNowRequest struct {
	TenantID      string `json:"tenantId" example:"salon-42"`
	ClientID      string `json:"clientId" example:"c_123"`
	AppointmentID string `json:"appointmentId,omitempty" example:"a_456"`
	Template      string `json:"template,omitempty" example:"appointment_reminder"`
	Text          string `json:"text,omitempty" example:"Bonjour {{first_name}}, à demain !"`
}

// SendNowResponse is a completed send.
type SendNowResponse struct {
	OK                bool   `json:"ok" example:"true"`
	Content           string `json:"content" example:"Bonjour Alice, à demain !"`
	ProviderMessageID string `json:"provider_message_id" example:"wamid.HBgL"`
	EntryID           string `json:"entry_id" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
}

// SendNow godoc
// @ID          sendNow
// @Summary     Send one message synchronously
// @Description Runs policy, quota, duplicate check, composition and the provider call inline.
// @Description The same Idempotency-Key always maps to the first send.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string                   false  "Caller-chosen key for safe retries"
// @Param       body             body    handlers.SendNowRequest  true   "Send parameters"
// @Success     200  {object}  handlers.SendNowResponse
// @Failure     400  {object}  handlers.ErrorResponse      "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse      "Agent disabled"
// @Failure     404  {object}  handlers.ErrorResponse      "Client, appointment or template not found"
// @Failure     409  {object}  handlers.DuplicateResponse  "Already sent"
// @Failure     429  {object}  handlers.ErrorResponse      "Quota exceeded"
// @Failure     502  {object}  handlers.ErrorResponse      "Provider failure"
// @Router      /send-now [post]
func (h *Handlers) SendNow(c *gin.Context) {
	var req SendNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.sender.SendNow(c.Request.Context(), services.SendNowInput{
		TenantID:       strings.TrimSpace(req.TenantID),
		ClientID:       strings.TrimSpace(req.ClientID),
		AppointmentID:  strings.TrimSpace(req.AppointmentID),
		TemplateName:   strings.TrimSpace(req.Template),
		Text:           req.Text,
		IdempotencyKey: key,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, SendNowResponse{
		OK:                true,
		Content:           res.Content,
		ProviderMessageID: res.ProviderMessageID,
		EntryID:           res.EntryID,
	})
}
