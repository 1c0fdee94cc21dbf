package mailbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMessages(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bounces", r.URL.Query().Get("folder"))
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"messages":[
			{"id":"<m1@mail>","from":"mailer-daemon@mx.example.com","subject":"Undelivered Mail Returned to Sender","body":"...","received_at":"2026-03-01T08:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithFolder("Bounces"))

	msgs, err := c.ListMessages(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "<m1@mail>", msgs[0].ID)
	assert.Equal(t, "mailer-daemon@mx.example.com", msgs[0].From)
}

func TestListMessages_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	msgs, err := NewClient("tok", WithBaseURL(srv.URL)).ListMessages(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListMessages_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient("tok", WithBaseURL(srv.URL)).ListMessages(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
