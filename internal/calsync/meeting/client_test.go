package meeting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-service/internal/calsync"
	"scheduler-service/internal/model"
	"scheduler-service/pkg/logging"
)

var host = model.Resource{ID: "r1", Timezone: "UTC", MeetingHostID: "coach@example.com"}

func booking() model.Booking {
	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	return model.Booking{ID: "b1", ClientName: "Ada", ClientEmail: "ada@example.com", Start: start, End: start.Add(45 * time.Minute)}
}

func TestCreateMeeting(t *testing.T) {
	var got meetingRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/coach@example.com/meetings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 85746065, "join_url": "https://meet.example.com/j/85746065"}`))
	}))
	defer ts.Close()

	c := NewClientWithHTTP(ts.URL, ts.Client(), logging.Discard())
	art, err := c.Create(context.Background(), host, booking())
	require.NoError(t, err)
	assert.Equal(t, "85746065", art.ExternalID)
	assert.Equal(t, "https://meet.example.com/j/85746065", art.JoinURL)
	assert.Equal(t, 45, got.Duration)
	assert.Equal(t, "2030-01-07T10:00:00Z", got.StartTime)
	assert.Equal(t, scheduledMeeting, got.Type)
}

func TestCreateWithoutHostIsNotConfigured(t *testing.T) {
	c := NewClientWithHTTP("http://unused", nil, logging.Discard())
	_, err := c.Create(context.Background(), model.Resource{ID: "r2"}, booking())
	assert.ErrorIs(t, err, calsync.ErrNotConfigured)
}

func TestUpdateAndDelete(t *testing.T) {
	var calls []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPatch:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code": 3001, "message": "Meeting does not exist"}`))
		}
	}))
	defer ts.Close()

	c := NewClientWithHTTP(ts.URL, ts.Client(), logging.Discard())
	require.NoError(t, c.Update(context.Background(), host, booking(), "42"))
	require.NoError(t, c.Delete(context.Background(), host, "42"))
	assert.Equal(t, []string{"PATCH /meetings/42", "DELETE /meetings/42"}, calls)
}

func TestServerErrorsAreTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClientWithHTTP(ts.URL, ts.Client(), logging.Discard())
	_, err := c.Create(context.Background(), host, booking())
	require.Error(t, err)
	assert.True(t, calsync.IsTransient(err))
}

func TestClientErrorsArePermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "invalid start_time"}`))
	}))
	defer ts.Close()

	c := NewClientWithHTTP(ts.URL, ts.Client(), logging.Discard())
	err := c.Update(context.Background(), host, booking(), "42")
	require.Error(t, err)
	assert.False(t, calsync.IsTransient(err))
	assert.Contains(t, err.Error(), "invalid start_time")
}

func TestTokenFetchedThroughClientCredentials(t *testing.T) {
	var authHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token": "s2s-token", "token_type": "bearer", "expires_in": 3600}`))
		default:
			authHeader = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"id": "1", "join_url": "https://meet.example.com/j/1"}`))
		}
	}))
	defer ts.Close()

	c := NewClient(context.Background(), Config{
		BaseURL:      ts.URL,
		TokenURL:     ts.URL + "/oauth/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}, logging.Discard())
	_, err := c.Create(context.Background(), host, booking())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s2s-token", authHeader)
}
