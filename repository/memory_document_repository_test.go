package repository

import (
	"context"
	"testing"

	"travelflow-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDocumentStore_SubscribeAndClose(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	var got [][]byte
	sub, err := store.Subscribe(ctx, "u1", func(raw []byte) { got = append(got, raw) }, func(error) {})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Nil(t, got[0])

	require.NoError(t, store.Write(ctx, "u1", &models.MultiTripDocument{Trips: map[string]models.Trip{}, CurrentTripID: "a"}))
	require.NoError(t, store.Write(ctx, "u2", &models.MultiTripDocument{Trips: map[string]models.Trip{}}))
	require.Len(t, got, 2)
	assert.Contains(t, string(got[1]), `"currentTripId":"a"`)

	sub.Close()
	sub.Close()
	store.Put("u1", []byte(`{"trips":{}}`))
	assert.Len(t, got, 2)

	raw, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"trips":{}}`, string(raw))
}

func TestMemoryDocumentStore_CancelledContext(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Write(ctx, "u1", &models.MultiTripDocument{}), context.Canceled)
	_, err = store.Subscribe(ctx, "u1", func([]byte) {}, func(error) {})
	assert.ErrorIs(t, err, context.Canceled)
}
