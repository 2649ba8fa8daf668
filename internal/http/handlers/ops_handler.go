package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-reminder-agent/internal/dlq"
	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/http/middleware"
	"github.com/tbourn/go-reminder-agent/internal/quota"
)

// DLQStatsResponse holds job counts per queue.
type DLQStatsResponse struct {
	OK     bool                      `json:"ok" example:"true"`
	Queues map[string]dlq.QueueStats `json:"queues"`
}

// DLQRetryResponse is the dead-letter record after a replay.
type DLQRetryResponse struct {
	OK     bool               `json:"ok" example:"true"`
	Record *domain.DeadLetter `json:"record"`
}

// QuotaStatusResponse is an admission snapshot.
type QuotaStatusResponse struct {
	OK       bool   `json:"ok" example:"true"`
	TenantID string `json:"tenant_id" example:"salon-42"`
	quota.Decision
}

// QuotaUsageResponse wraps per-window consumption.
type QuotaUsageResponse struct {
	OK    bool        `json:"ok" example:"true"`
	Usage quota.Usage `json:"usage"`
}

// DLQStats godoc
// @ID          dlqStats
// @Summary     Queue and dead-letter counts
// @Tags        Operations
// @Produce     json
// @Success     200  {object}  handlers.DLQStatsResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /dlq/stats [get]
func (h *Handlers) DLQStats(c *gin.Context) {
	stats, err := h.deadLetters.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, DLQStatsResponse{OK: true, Queues: stats})
}

// DLQRetry godoc
// @ID          dlqRetry
// @Summary     Replay a dead-lettered job
// @Description Re-arms the original job in its queue with a fresh attempt budget.
// @Tags        Operations
// @Produce     json
// @Param       queue  path  string  true  "Original queue"  example(reminders)
// @Param       jobId  path  string  true  "Original job id"  example(reminder:a_456)
// @Success     202  {object}  handlers.DLQRetryResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No dead letter for this job"
// @Failure     409  {object}  handlers.ErrorResponse  "Job is not failed"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /dlq/retry/{queue}/{jobId} [post]
func (h *Handlers) DLQRetry(c *gin.Context) {
	q, id := c.Param("queue"), c.Param("jobId")
	if q == "" || id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "queue and jobId required")
		return
	}
	rec, err := h.deadLetters.Retry(c.Request.Context(), q, id)
	if errors.Is(err, dlq.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	if errors.Is(err, dlq.ErrJobNotRetryable) {
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	middleware.LoggerFrom(c).Info().Str("queue", q).Str("job_id", id).Msg("dead letter replayed")
	ok(c, http.StatusAccepted, DLQRetryResponse{OK: true, Record: rec})
}

// tenantQuery reads the required tenantId query parameter.
func tenantQuery(c *gin.Context) (string, bool) {
	t := strings.TrimSpace(c.Query("tenantId"))
	if t == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tenantId required")
		return "", false
	}
	return t, true
}

func failQuota(c *gin.Context, err error) {
	if errors.Is(err, quota.ErrNoDefault) {
		fail(c, http.StatusInternalServerError, ErrCodeNoQuotaConfig, err.Error())
		return
	}
	fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
}

// QuotaUsage godoc
// @ID          quotaUsage
// @Summary     Per-window quota consumption
// @Tags        Operations
// @Produce     json
// @Param       tenantId  query  string  true  "Tenant"
// @Success     200  {object}  handlers.QuotaUsageResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /quotas/usage [get]
func (h *Handlers) QuotaUsage(c *gin.Context) {
	tenant, okTenant := tenantQuery(c)
	if !okTenant {
		return
	}
	u, err := h.quotas.Usage(c.Request.Context(), tenant)
	if err != nil {
		failQuota(c, err)
		return
	}
	ok(c, http.StatusOK, QuotaUsageResponse{OK: true, Usage: u})
}

// QuotaStatus godoc
// @ID          quotaStatus
// @Summary     Whether the tenant may send right now
// @Tags        Operations
// @Produce     json
// @Param       tenantId  query  string  true  "Tenant"
// @Success     200  {object}  handlers.QuotaStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /quotas/status [get]
func (h *Handlers) QuotaStatus(c *gin.Context) {
	tenant, okTenant := tenantQuery(c)
	if !okTenant {
		return
	}
	d, err := h.quotas.CanSend(c.Request.Context(), tenant)
	if err != nil {
		failQuota(c, err)
		return
	}
	ok(c, http.StatusOK, QuotaStatusResponse{OK: true, TenantID: tenant, Decision: d})
}
