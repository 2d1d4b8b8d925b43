package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/itemcf/pkg/models"
)

type recordingEventStore struct {
	events []*models.TrackEvent
	err    error
}

func (r *recordingEventStore) StoreEvent(_ context.Context, event *models.TrackEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func TestProductIDFromValue(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    int64
		wantErr bool
	}{
		{"int64", int64(12), 12, false},
		{"integral float", float64(7), 7, false},
		{"fractional float", 7.5, 0, true},
		{"string", "7", 0, true},
		{"nil", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := productIDFromValue(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMirroredEventStore(t *testing.T) {
	event := &models.TrackEvent{UserID: 1, ProductID: 2, Action: models.ActionClick}

	t.Run("writes both", func(t *testing.T) {
		primary, mirror := &recordingEventStore{}, &recordingEventStore{}
		store := NewMirroredEventStore(primary, mirror, testLogger())

		require.NoError(t, store.PublishEvent(context.Background(), event))

		assert.Len(t, primary.events, 1)
		assert.Len(t, mirror.events, 1)
	})

	t.Run("mirror failure ignored", func(t *testing.T) {
		primary := &recordingEventStore{}
		store := NewMirroredEventStore(primary, &recordingEventStore{err: errors.New("graph down")}, testLogger())

		require.NoError(t, store.StoreEvent(context.Background(), event))
		assert.Len(t, primary.events, 1)
	})

	t.Run("primary failure returned", func(t *testing.T) {
		mirror := &recordingEventStore{}
		store := NewMirroredEventStore(&recordingEventStore{err: errors.New("pg down")}, mirror, testLogger())

		assert.Error(t, store.StoreEvent(context.Background(), event))
		assert.Empty(t, mirror.events)
	})

	t.Run("no mirror", func(t *testing.T) {
		primary := &recordingEventStore{}
		store := NewMirroredEventStore(primary, nil, testLogger())

		require.NoError(t, store.StoreEvent(context.Background(), event))
		assert.Len(t, primary.events, 1)
	})
}
