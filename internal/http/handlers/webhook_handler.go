package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-reminder-agent/internal/intent"
	"github.com/tbourn/go-reminder-agent/internal/services"
)

// InboundRequest is a message a client sent to the tenant. Either ClientID
// or FromAddress identifies the sender.
type InboundRequest struct {
	TenantID    string `json:"tenantId" example:"salon-42"`
	ClientID    string `json:"clientId,omitempty" example:"c_123"`
	FromAddress string `json:"fromAddress,omitempty" example:"+33612345678"`
	Text        string `json:"text" example:"STOP"`
	MessageID   string `json:"messageId,omitempty" example:"wamid.HBgL"`
}

// InboundResponse acknowledges an inbound message.
type InboundResponse struct {
	OK       bool          `json:"ok" example:"true"`
	Received bool          `json:"received" example:"true"`
	Intent   intent.Intent `json:"intent" example:"stop"`
	Action   intent.Action `json:"action" example:"disable_agent"`
	EntryID  string        `json:"entry_id" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
}

// StatusRequest is a delivery callback.
type StatusRequest struct {
	ProviderMessageID string    `json:"providerMessageId" example:"pm-1"`
	Event             string    `json:"event" example:"delivered" enums:"queued,sent,delivered,read,failed"`
	Timestamp         time.Time `json:"timestamp" example:"2026-03-02T10:00:00Z"`
}

// StatusResponse acknowledges a callback. Updated is false when the event
// would have moved the entry backwards.
type StatusResponse struct {
	OK      bool `json:"ok" example:"true"`
	Updated bool `json:"updated" example:"true"`
}

// Inbound godoc
// @ID          postInbound
// @Summary     Receive an inbound message
// @Description Deduplicates, classifies and records a client message. A stop intent disables the tenant's agent.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       channel          path    string                   true   "Channel"  example(whatsapp)
// @Param       X-Signature-256  header  string                   false  "sha256=<hex HMAC of the body>"
// @Param       body             body    handlers.InboundRequest  true   "Inbound message"
// @Success     200  {object}  handlers.InboundResponse
// @Failure     400  {object}  handlers.ErrorResponse      "Missing parameters"
// @Failure     403  {object}  handlers.ErrorResponse      "Bad signature"
// @Failure     404  {object}  handlers.ErrorResponse      "Client not found"
// @Failure     409  {object}  handlers.DuplicateResponse  "Duplicate delivery"
// @Failure     429  {object}  handlers.ErrorResponse      "Rate limited"
// @Router      /webhooks/{channel}/inbound [post]
func (h *Handlers) Inbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.webhooks.Inbound(c.Request.Context(), services.InboundInput{
		Channel:   c.Param("channel"),
		TenantID:  strings.TrimSpace(req.TenantID),
		ClientID:  strings.TrimSpace(req.ClientID),
		From:      strings.TrimSpace(req.FromAddress),
		Text:      req.Text,
		MessageID: strings.TrimSpace(req.MessageID),
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, InboundResponse{OK: true, Received: true, Intent: res.Intent, Action: res.Action, EntryID: res.EntryID})
}

// Status godoc
// @ID          postStatus
// @Summary     Receive a delivery status callback
// @Description Moves the matching message log entry forward (queued, sent, delivered, read; failed is terminal).
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       channel  path  string                  true  "Channel"  example(whatsapp)
// @Param       body     body  handlers.StatusRequest  true  "Status event"
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing or unknown event"
// @Failure     404  {object}  handlers.ErrorResponse  "No matching message"
// @Router      /webhooks/{channel}/status [post]
func (h *Handlers) Status(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	updated, err := h.webhooks.Status(c.Request.Context(), services.StatusInput{
		ProviderMessageID: strings.TrimSpace(req.ProviderMessageID),
		Event:             req.Event,
		Timestamp:         req.Timestamp,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, StatusResponse{OK: true, Updated: updated})
}

// Verify godoc
// @ID          getVerify
// @Summary     Provider subscription handshake
// @Description Echoes hub.challenge when hub.verify_token matches the configured secret.
// @Tags        Webhooks
// @Produce     plain
// @Param       provider           path   string  true   "Provider"  example(whatsapp)
// @Param       hub.mode           query  string  false  "Expected: subscribe"
// @Param       hub.verify_token   query  string  true   "Shared secret"
// @Param       hub.challenge      query  string  true   "Value to echo"
// @Success     200  {string}  string  "challenge"
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /webhooks/{provider}/verify [get]
func (h *Handlers) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if h.verifyToken == "" || (mode != "" && mode != "subscribe") ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		fail(c, http.StatusForbidden, ErrCodeVerifyFailed, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}
