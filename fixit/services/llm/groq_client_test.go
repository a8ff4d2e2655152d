package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteSendsSystemPromptAndParameters(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":"Restart the router."}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient("test-key", WithBaseURL(srv.URL+"/"), WithModel("test-model"))
	out, err := c.Complete(context.Background(), "be helpful", []Message{{Role: RoleUser, Content: "wifi broken"}})
	require.NoError(t, err)
	assert.Equal(t, "Restart the router.", out)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, Temperature, got.Temperature)
	assert.Equal(t, MaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: "be helpful"}, got.Messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "wifi broken"}, got.Messages[1])
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	_, err := NewGroqClient("k", WithBaseURL(srv.URL)).Complete(context.Background(), "", nil)
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	assert.Equal(t, "model overloaded", ue.Message)
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewGroqClient("k", WithBaseURL(srv.URL)).Complete(context.Background(), "", nil)
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadGateway, ue.StatusCode)
}

func TestCompleteUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewGroqClient("k", WithBaseURL(url)).Complete(context.Background(), "", nil)
	var te *TransientError
	assert.True(t, errors.As(err, &te))
}

func TestCompleteTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewGroqClient("k", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := c.Complete(context.Background(), "", nil)
	var te *TransientError
	assert.True(t, errors.As(err, &te))
}

func TestCompleteNotConfigured(t *testing.T) {
	c := NewGroqClient("")
	assert.False(t, c.Configured())
	_, err := c.Complete(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RoleSystem, RoleUser, RoleAssistant} {
		assert.True(t, ValidRole(r), r)
	}
	assert.False(t, ValidRole("tool"))
	assert.False(t, ValidRole(""))
}
