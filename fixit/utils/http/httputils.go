// fixit/utils/http/httputils.go
package httputils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fixit/fixit/utils/logging"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// MaxBodyBytes bounds request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrBadJSON is returned by DecodeJSON for unreadable or malformed bodies.
var ErrBadJSON = errors.New("malformed JSON body")

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ErrorLogger.Error("write json response", zap.Error(err))
	}
}

// DecodeJSON reads at most MaxBodyBytes from r into v.
func DecodeJSON(r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	return nil
}

// StatusError is a non-2xx answer seen by PostJSON or GetJSON. Body holds
// the raw response so callers can decode an error payload.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status: %d", e.StatusCode)
}

func PostJSON(ctx context.Context, client *http.Client, url string, body interface{}, resp interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, resp)
}

func GetJSON(ctx context.Context, client *http.Client, url string, resp interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(client, req, resp)
}

func do(client *http.Client, req *http.Request, resp interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}
	req.Header.Set("Accept", "application/json")
	r, err := client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		return &StatusError{StatusCode: r.StatusCode, Body: raw}
	}
	if resp != nil {
		return json.NewDecoder(r.Body).Decode(resp)
	}
	return nil
}
