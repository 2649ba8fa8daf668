package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, not
// on messages.
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "quota_exceeded",
//	  "message": "hourly quota exceeded"
//	}
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	ErrCodeDuplicate      = "duplicate"
	ErrCodeQuotaExceeded  = "quota_exceeded"
	ErrCodeAgentDisabled  = "agent_disabled"
	ErrCodeProviderFailed = "provider_failed"
	ErrCodeVerifyFailed   = "verification_failed"
	ErrCodeEnqueueFailed  = "enqueue_failed"
	ErrCodeNoQuotaConfig  = "quota_not_configured"
)
