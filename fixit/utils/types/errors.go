// fixit/utils/types/errors.go
package types

// FieldError names one invalid request field.
type FieldError struct {
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Storage   string `json:"storage,omitempty"`
}
