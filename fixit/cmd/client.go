package main

import (
	"context"
	"encoding/json"
	"errors"
	httputils "fixit/fixit/utils/http"
	"fixit/fixit/utils/types"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 90 * time.Second},
	}
}

// apiError is a non-2xx answer from the server with its decoded body.
type apiError struct {
	Status int
	Body   types.ErrorResponse
	Quota  *types.QuotaExceededResponse
}

func (e *apiError) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	for _, d := range e.Body.Details {
		msg += fmt.Sprintf("\n  %s: %s", d.Path, d.Msg)
	}
	return msg
}

func (c *apiClient) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	var out types.ChatResponse
	if err := httputils.PostJSON(ctx, c.http, c.base+"/api/chat", req, &out); err != nil {
		return nil, asAPIError(err)
	}
	return &out, nil
}

func (c *apiClient) Usage(ctx context.Context, userID string) (*types.UsageResponse, error) {
	var out types.UsageResponse
	if err := httputils.GetJSON(ctx, c.http, c.base+"/api/usage/"+url.PathEscape(userID), &out); err != nil {
		return nil, asAPIError(err)
	}
	return &out, nil
}

func (c *apiClient) Health(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := httputils.GetJSON(ctx, c.http, c.base+"/api/health", &out); err != nil {
		var se *httputils.StatusError
		if errors.As(err, &se) && json.Unmarshal(se.Body, &out) == nil && out.Status != "" {
			return &out, nil
		}
		return nil, asAPIError(err)
	}
	return &out, nil
}

func asAPIError(err error) error {
	var se *httputils.StatusError
	if !errors.As(err, &se) {
		return err
	}
	ae := &apiError{Status: se.StatusCode}
	_ = json.Unmarshal(se.Body, &ae.Body)
	if se.StatusCode == http.StatusTooManyRequests {
		var q types.QuotaExceededResponse
		if json.Unmarshal(se.Body, &q) == nil && q.Limit > 0 {
			ae.Quota = &q
		}
	}
	return ae
}
