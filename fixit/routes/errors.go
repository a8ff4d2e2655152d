// fixit/routes/errors.go
package routes

import (
	"errors"
	"fixit/fixit/controllers"
	"fixit/fixit/services/llm"
	httputils "fixit/fixit/utils/http"
	"fixit/fixit/utils/types"
	"net/http"
	"time"
)

const (
	msgInvalidRequest   = "Invalid request format"
	msgQuotaExceeded    = "Daily message limit reached"
	msgNotConfigured    = "AI service not configured"
	msgUpstreamError    = "AI service error"
	msgUpstreamDown     = "AI service unavailable"
	msgInternal         = "Internal server error"
	msgInvalidUserID    = "Valid User ID is required"
	msgUsageUnavailable = "Failed to fetch usage data"
)

// writeChatError maps every failure of the chat flow to a status and a
// body that never names the upstream vendor.
func writeChatError(w http.ResponseWriter, err error) {
	var (
		ve *controllers.ValidationError
		qe *controllers.QuotaExceededError
		ue *llm.UpstreamError
		te *llm.TransientError
	)
	switch {
	case errors.As(err, &ve):
		httputils.WriteJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: msgInvalidRequest, Details: ve.Details})
	case errors.As(err, &qe):
		httputils.WriteJSON(w, http.StatusTooManyRequests, types.QuotaExceededResponse{
			Error:     msgQuotaExceeded,
			Limit:     qe.Snapshot.Limit,
			Used:      qe.Snapshot.Used,
			Remaining: qe.Snapshot.Remaining,
			ResetTime: qe.Snapshot.ResetTime.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, controllers.ErrUpstreamNotConfigured):
		httputils.WriteJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: msgNotConfigured})
	case errors.As(err, &ue):
		httputils.WriteJSON(w, upstreamStatus(ue.StatusCode), types.ErrorResponse{Error: msgUpstreamError})
	case errors.As(err, &te):
		httputils.WriteJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: msgUpstreamDown})
	default:
		httputils.WriteJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: msgInternal})
	}
}

// upstreamStatus passes upstream error codes through, except auth failures
// which are our misconfiguration and not the caller's.
func upstreamStatus(code int) int {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return http.StatusInternalServerError
	case code >= 400 && code <= 599:
		return code
	}
	return http.StatusBadGateway
}
