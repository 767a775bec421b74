package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-service/internal/model"
	"scheduler-service/pkg/logging"
)

func sampleBooking() model.Booking {
	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	return model.Booking{
		ID:          "b1",
		ResourceID:  "r1",
		ClientName:  "Ada",
		ClientEmail: "ada@example.com",
		Start:       start,
		End:         start.Add(30 * time.Minute),
		Status:      model.StatusConfirmed,
		SyncRecords: []model.SyncRecord{
			{Provider: model.ProviderCalendar, ExternalID: "evt", Status: model.SyncSynced},
			{Provider: model.ProviderMeeting, ExternalID: "m1", JoinURL: "https://meet.example.com/j/1", Status: model.SyncSynced},
		},
	}
}

type recordingSender struct {
	kinds []TemplateKind
	err   error
}

func (r *recordingSender) Send(_ context.Context, kind TemplateKind, _ model.Booking) error {
	r.kinds = append(r.kinds, kind)
	return r.err
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{err: errors.New("smtp down")}
	m := Multi{ok, nil, bad}

	err := m.Send(context.Background(), BookingCancelled, sampleBooking())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, []TemplateKind{BookingCancelled}, ok.kinds)
	assert.Equal(t, []TemplateKind{BookingCancelled}, bad.kinds)
}

func TestRenderPlain(t *testing.T) {
	subject, body := renderPlain(BookingConfirmed, sampleBooking())
	assert.Equal(t, "Your appointment is confirmed", subject)
	assert.Contains(t, body, "Hi Ada")
	assert.Contains(t, body, "Duration: 30 minutes")
	assert.Contains(t, body, "https://meet.example.com/j/1")

	subject, body = renderPlain(BookingCancelled, sampleBooking())
	assert.Equal(t, "Your appointment was cancelled", subject)
	assert.NotContains(t, body, "Join link")
}

func TestSendGridSender(t *testing.T) {
	var (
		auth string
		sent map[string]any
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &sent))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	s := NewSendGridSender(SendGridConfig{APIKey: "sg-key", FromEmail: "noreply@example.com", Host: ts.URL}, logging.Discard())
	require.NotNil(t, s)
	require.NoError(t, s.Send(context.Background(), BookingRescheduled, sampleBooking()))
	assert.Equal(t, "Bearer sg-key", auth)
	assert.Equal(t, "Your appointment was moved", sent["subject"])
}

func TestSendGridSenderErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	s := NewSendGridSender(SendGridConfig{APIKey: "bad", Host: ts.URL}, logging.Discard())
	err := s.Send(context.Background(), BookingConfirmed, sampleBooking())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestSendGridSenderDisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{}, nil))
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "booking-events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, "", logging.Discard())
	require.NoError(t, p.Send(ctx, BookingConfirmed, sampleBooking()))

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, BookingConfirmed, ev.Kind)
		assert.Equal(t, "b1", ev.BookingID)
		assert.Equal(t, "https://meet.example.com/j/1", ev.JoinURL)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestRedisPublisherConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	p := NewRedisPublisher(client, "events", logging.Discard())
	assert.Error(t, p.Send(context.Background(), BookingConfirmed, sampleBooking()))
}
