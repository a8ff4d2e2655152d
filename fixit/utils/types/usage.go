// fixit/utils/types/usage.go
package types

// UsageResponse reports a user's standing for the current UTC day.
// ResetTime is RFC 3339 in UTC.
type UsageResponse struct {
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	ResetTime string `json:"resetTime"`
}

type QuotaExceededResponse struct {
	Error     string `json:"error"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetTime string `json:"resetTime"`
}
