package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
)

func TestSend(t *testing.T) {
	var gotMethod, gotBody, gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(time.Second)
	err := c.Send(context.Background(), action.WebhookRequest{
		URL:     srv.URL,
		Method:  "put",
		Headers: map[string]string{"Authorization": "Bearer t"},
		Body:    `{"id":"d1"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, `{"id":"d1"}`, gotBody)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, "application/json", gotType)
}

func TestSend_DefaultsToPost(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer srv.Close()

	require.NoError(t, New(0).Send(context.Background(), action.WebhookRequest{URL: srv.URL, Body: "{}"}))
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestSend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(time.Second).Send(context.Background(), action.WebhookRequest{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "nope")
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := New(20*time.Millisecond).Send(context.Background(), action.WebhookRequest{URL: srv.URL})
	assert.Error(t, err)
}

func TestSend_BadURL(t *testing.T) {
	err := New(time.Second).Send(context.Background(), action.WebhookRequest{URL: "://bad"})
	assert.Error(t, err)
}
