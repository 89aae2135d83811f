package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"travelflow-backend/database"
	"travelflow-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDB connects to TEST_DATABASE_URL and applies migrations. The test is
// skipped when the variable is not set.
func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := database.New(dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestDocumentRepository_WriteAndGet(t *testing.T) {
	store := NewDocumentRepository(newTestDB(t))
	ctx := context.Background()
	userID := uuid.NewString()

	raw, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, raw)

	doc := &models.MultiTripDocument{
		Trips:         map[string]models.Trip{"t1": {Settings: models.DefaultSettings()}},
		CurrentTripID: "t1",
		LastModified:  1700000000000,
	}
	require.NoError(t, store.Write(ctx, userID, doc))

	raw, err = store.Get(ctx, userID)
	require.NoError(t, err)
	decoded, err := models.DecodeUserDocument(raw)
	require.NoError(t, err)
	multi, ok := decoded.(*models.MultiTripDocument)
	require.True(t, ok)
	assert.Equal(t, "t1", multi.CurrentTripID)
	assert.Len(t, multi.Trips, 1)
}

func TestDocumentRepository_SubscribeSeesWrites(t *testing.T) {
	store := NewDocumentRepository(newTestDB(t))
	ctx := context.Background()
	userID := uuid.NewString()

	snapshots := make(chan []byte, 8)
	sub, err := store.Subscribe(ctx, userID,
		func(raw []byte) { snapshots <- raw },
		func(err error) { t.Errorf("subscription failed: %v", err) })
	require.NoError(t, err)
	defer sub.Close()

	select {
	case raw := <-snapshots:
		assert.Nil(t, raw)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}

	// writes for other users must not wake this subscription
	require.NoError(t, store.Write(ctx, uuid.NewString(), &models.MultiTripDocument{Trips: map[string]models.Trip{}}))
	require.NoError(t, store.Write(ctx, userID, &models.MultiTripDocument{
		Trips:         map[string]models.Trip{"t2": {Settings: models.DefaultSettings()}},
		CurrentTripID: "t2",
	}))

	select {
	case raw := <-snapshots:
		assert.Contains(t, string(raw), `"t2"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot after write")
	}
}
