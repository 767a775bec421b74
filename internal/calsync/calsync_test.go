package calsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduler-service/internal/model"
)

func TestNewErrorClassification(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name      string
		status    int
		err       error
		transient bool
		notFound  bool
	}{
		{"server error", http.StatusBadGateway, base, true, false},
		{"rate limited", http.StatusTooManyRequests, base, true, false},
		{"bad request", http.StatusBadRequest, base, false, false},
		{"gone", http.StatusGone, base, false, true},
		{"not found", http.StatusNotFound, base, false, true},
		{"deadline", 0, context.DeadlineExceeded, true, false},
		{"unknown transport", 0, base, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(model.ProviderCalendar, "create", tt.status, tt.err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.notFound, errors.Is(err, ErrExternalNotFound))
		})
	}
}

func TestIsTransientSentinels(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(fmt.Errorf("wrap: %w", ErrNotConfigured)))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
}

type stubAdapter struct{ kind model.ProviderKind }

func (s stubAdapter) Kind() model.ProviderKind { return s.kind }
func (stubAdapter) Create(context.Context, model.Resource, model.Booking) (Artifact, error) {
	return Artifact{}, nil
}
func (stubAdapter) Update(context.Context, model.Resource, model.Booking, string) error { return nil }
func (stubAdapter) Delete(context.Context, model.Resource, string) error                { return nil }

func TestRegistryOrderAndDuplicates(t *testing.T) {
	reg, err := NewRegistry(stubAdapter{model.ProviderMeeting}, nil, stubAdapter{model.ProviderCalendar})
	require.NoError(t, err)

	got := reg.Adapters()
	require.Len(t, got, 2)
	assert.Equal(t, model.ProviderCalendar, got[0].Kind())
	assert.Equal(t, model.ProviderMeeting, got[1].Kind())

	_, ok := reg.Busy()
	assert.False(t, ok)

	_, err = NewRegistry(stubAdapter{model.ProviderMeeting}, stubAdapter{model.ProviderMeeting})
	assert.Error(t, err)

	var empty *Registry
	assert.Empty(t, empty.Adapters())
}
