package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	*MemoryDocumentStore

	mu        sync.Mutex
	failing   bool
	writes    int
	subscribe error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryDocumentStore: NewMemoryDocumentStore()}
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *flakyStore) Write(ctx context.Context, userID string, doc *models.MultiTripDocument) error {
	f.mu.Lock()
	f.writes++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("connection refused")
	}
	return f.MemoryDocumentStore.Write(ctx, userID, doc)
}

func (f *flakyStore) Subscribe(ctx context.Context, userID string, onSnapshot func([]byte), onError func(error)) (Subscription, error) {
	if f.subscribe != nil {
		return nil, f.subscribe
	}
	return f.MemoryDocumentStore.Subscribe(ctx, userID, onSnapshot, onError)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id%d", n)
	}
}

func newTestRepo(store DocumentStore) *TripRepository {
	return NewTripRepository(store, Session{UserID: "user-1"},
		WithRetries(0),
		WithBackoff(time.Millisecond),
		WithTripIDs(sequentialIDs()),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
	)
}

func tokyoTrip() models.Trip {
	s := models.DefaultSettings()
	s.IsSetup = true
	s.Destination = "Tokyo"
	s.Users = []string{"Alice", "Bob"}
	return models.Trip{Settings: s}
}

func decodeStored(t *testing.T, store *MemoryDocumentStore) *models.MultiTripDocument {
	t.Helper()
	raw, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	doc, err := models.DecodeUserDocument(raw)
	require.NoError(t, err)
	multi, ok := doc.(*models.MultiTripDocument)
	require.True(t, ok, "expected a multi-trip document, got %T", doc)
	return multi
}

func TestLoad_AbsentDocumentLeavesCollectionEmpty(t *testing.T) {
	repo := newTestRepo(NewMemoryDocumentStore())
	require.NoError(t, repo.Load(context.Background()))

	state := repo.State()
	assert.Empty(t, state.Trips)
	assert.Empty(t, state.CurrentTripID)
	assert.Equal(t, models.SyncStatusOnline, state.SyncStatus)
	assert.False(t, state.Settings.IsSetup)
}

func TestLoad_SelectsCurrentTripID(t *testing.T) {
	store := NewMemoryDocumentStore()
	store.Put("user-1", []byte(`{
		"trips": {
			"a": {"settings": {"destination": "Paris", "days": 2, "users": ["Me"]}, "itinerary": [], "expenses": []},
			"b": {"settings": {"destination": "Rome", "days": 4, "users": ["Me"]}, "itinerary": [], "expenses": []}
		},
		"currentTripId": "b"
	}`))

	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))

	state := repo.State()
	assert.Equal(t, "b", state.CurrentTripID)
	assert.Equal(t, "Rome", state.Settings.Destination)
	assert.Len(t, state.Trips, 2)
}

func TestLoad_FallsBackToFirstTripWithoutCurrentID(t *testing.T) {
	store := NewMemoryDocumentStore()
	store.Put("user-1", []byte(`{
		"trips": {
			"zeta": {"settings": {"destination": "Oslo", "days": 1, "users": ["Me"]}},
			"alpha": {"settings": {"destination": "Lima", "days": 1, "users": ["Me"]}}
		}
	}`))

	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))

	state := repo.State()
	assert.Equal(t, "alpha", state.CurrentTripID)
	assert.Equal(t, "Lima", state.Settings.Destination)
	assert.NotNil(t, state.Itinerary)
	assert.NotNil(t, state.Expenses)
}

func TestLoad_MigratesLegacyDocumentOnce(t *testing.T) {
	store := NewMemoryDocumentStore()
	store.Put("user-1", []byte(`{
		"settings": {"isSetup": true, "destination": "Kyoto", "days": 3, "users": ["Me", "Partner"]},
		"itinerary": [{"id": 1, "dayIndex": 0, "time": "09:00", "location": "Fushimi Inari", "lat": 0, "lon": 0}],
		"expenses": [{"id": 2, "amount": 40, "title": "Tea", "payer": "Me"}]
	}`))

	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))

	state := repo.State()
	assert.Equal(t, "legacy_id1", state.CurrentTripID)
	assert.Equal(t, "Kyoto", state.Settings.Destination)
	require.Len(t, state.Itinerary, 1)
	assert.Nil(t, state.Itinerary[0].Coordinates())
	assert.Len(t, state.Expenses, 1)

	stored := decodeStored(t, store)
	assert.Equal(t, "legacy_id1", stored.CurrentTripID)
	require.Contains(t, stored.Trips, "legacy_id1")
	assert.Equal(t, "Kyoto", stored.Trips["legacy_id1"].Settings.Destination)
	assert.Equal(t, models.SyncStatusOnline, state.SyncStatus)
}

func TestLoad_SubscribeFailureGoesOffline(t *testing.T) {
	store := newFlakyStore()
	store.subscribe = errors.New("permission denied")
	repo := newTestRepo(store)

	err := repo.Load(context.Background())
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodePersistenceError, appErr.Code)
	assert.Equal(t, models.SyncStatusOffline, repo.SyncStatus())
}

func TestSave_NoOpWithoutCurrentTrip(t *testing.T) {
	store := newFlakyStore()
	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))

	repo.Save(context.Background(), OverrideItinerary([]models.ItineraryItem{{ID: 1, Location: "Nowhere"}}))

	assert.Equal(t, 0, store.writeCount())
	raw, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestStartTripAndSave_WritesWholeCollection(t *testing.T) {
	store := NewMemoryDocumentStore()
	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))

	first := repo.StartTrip(context.Background(), tokyoTrip())
	assert.Equal(t, "id1", first)

	repo.CreateNewTrip()
	assert.Empty(t, repo.CurrentTripID())

	second := tokyoTrip()
	second.Settings.Destination = "Osaka"
	secondID := repo.StartTrip(context.Background(), second)

	repo.Save(context.Background(), OverrideExpenses([]models.Expense{{ID: 5, Amount: 12, Title: "Ramen", Payer: "Alice"}}))

	stored := decodeStored(t, store)
	assert.Equal(t, secondID, stored.CurrentTripID)
	require.Len(t, stored.Trips, 2)
	assert.Equal(t, "Tokyo", stored.Trips[first].Settings.Destination)
	assert.Len(t, stored.Trips[secondID].Expenses, 1)
	assert.Equal(t, int64(1700000000000), stored.Trips[secondID].LastModified)

	state := repo.State()
	assert.Equal(t, "Osaka", state.Settings.Destination)
	assert.False(t, state.Dirty)
}

func TestSave_WriteFailureFlipsOfflineAndFlushRecovers(t *testing.T) {
	store := newFlakyStore()
	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))
	repo.StartTrip(context.Background(), tokyoTrip())

	store.setFailing(true)
	repo.Save(context.Background(), OverrideExpenses([]models.Expense{{ID: 1, Amount: 10, Title: "Taxi", Payer: "Bob"}}))

	state := repo.State()
	assert.Equal(t, models.SyncStatusOffline, state.SyncStatus)
	assert.True(t, state.Dirty)
	// Local state is kept even though the write failed.
	assert.Len(t, state.Expenses, 1)

	store.setFailing(false)
	repo.Flush(context.Background())

	state = repo.State()
	assert.Equal(t, models.SyncStatusOnline, state.SyncStatus)
	assert.False(t, state.Dirty)
	assert.Len(t, decodeStored(t, store.MemoryDocumentStore).Trips[state.CurrentTripID].Expenses, 1)
}

func TestSave_RetriesTransientFailures(t *testing.T) {
	store := newFlakyStore()
	repo := NewTripRepository(store, Session{UserID: "user-1"},
		WithRetries(2), WithBackoff(time.Millisecond), WithTripIDs(sequentialIDs()))
	require.NoError(t, repo.Load(context.Background()))

	store.setFailing(true)
	repo.StartTrip(context.Background(), tokyoTrip())

	assert.Equal(t, 3, store.writeCount())
	assert.Equal(t, models.SyncStatusOffline, repo.SyncStatus())
}

func TestMutate_RequiresCurrentTrip(t *testing.T) {
	repo := newTestRepo(NewMemoryDocumentStore())
	require.NoError(t, repo.Load(context.Background()))

	err := repo.Mutate(context.Background(), func(w *WorkingTrip) error { return nil })
	assert.ErrorIs(t, err, apperrors.ErrNoActiveTrip)
}

func TestMutate_NoChangeSkipsWrite(t *testing.T) {
	store := newFlakyStore()
	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))
	repo.StartTrip(context.Background(), tokyoTrip())
	before := store.writeCount()

	err := repo.Mutate(context.Background(), func(w *WorkingTrip) error { return ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, before, store.writeCount())
}

func TestSwitchTrip(t *testing.T) {
	repo := newTestRepo(NewMemoryDocumentStore())
	require.NoError(t, repo.Load(context.Background()))
	first := repo.StartTrip(context.Background(), tokyoTrip())
	repo.CreateNewTrip()
	other := tokyoTrip()
	other.Settings.Destination = "Seoul"
	repo.StartTrip(context.Background(), other)

	assert.False(t, repo.SwitchTrip("missing"))
	assert.Equal(t, "Seoul", repo.State().Settings.Destination)

	assert.True(t, repo.SwitchTrip(first))
	assert.Equal(t, "Tokyo", repo.State().Settings.Destination)
}

func TestDeleteTrip(t *testing.T) {
	store := NewMemoryDocumentStore()
	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))
	first := repo.StartTrip(context.Background(), tokyoTrip())
	repo.CreateNewTrip()
	second := repo.StartTrip(context.Background(), tokyoTrip())

	assert.True(t, repo.DeleteTrip(context.Background(), second))
	state := repo.State()
	assert.Equal(t, first, state.CurrentTripID)
	assert.NotContains(t, decodeStored(t, store).Trips, second)

	assert.True(t, repo.DeleteTrip(context.Background(), first))
	state = repo.State()
	assert.Empty(t, state.CurrentTripID)
	assert.Empty(t, state.Trips)
	assert.Equal(t, models.DefaultSettings(), state.Settings)
	assert.Empty(t, decodeStored(t, store).Trips)

	assert.False(t, repo.DeleteTrip(context.Background(), "missing"))
}

func TestRemoteSnapshotReplacesWorkingState(t *testing.T) {
	store := NewMemoryDocumentStore()
	repo := newTestRepo(store)
	require.NoError(t, repo.Load(context.Background()))
	id := repo.StartTrip(context.Background(), tokyoTrip())

	remote := decodeStored(t, store)
	trip := remote.Trips[id]
	trip.Expenses = append(trip.Expenses, models.Expense{ID: 9, Amount: 30, Title: "Museum", Payer: "Bob"})
	remote.Trips[id] = trip
	require.NoError(t, store.Write(context.Background(), "user-1", remote))

	state := repo.State()
	require.Len(t, state.Expenses, 1)
	assert.Equal(t, "Museum", state.Expenses[0].Title)
}

func TestListenAndTeardown(t *testing.T) {
	store := NewMemoryDocumentStore()
	repo := newTestRepo(store)

	var mu sync.Mutex
	var seen []models.SyncStatus
	cancel := repo.Listen(func(s TripState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.SyncStatus)
	})
	defer cancel()

	require.NoError(t, repo.Load(context.Background()))
	repo.StartTrip(context.Background(), tokyoTrip())

	mu.Lock()
	assert.Contains(t, seen, models.SyncStatusSyncing)
	assert.Contains(t, seen, models.SyncStatusOnline)
	mu.Unlock()

	repo.Teardown()
	state := repo.State()
	assert.Empty(t, state.Trips)
	assert.Empty(t, state.CurrentTripID)
	assert.Equal(t, models.SyncStatusOffline, state.SyncStatus)

	// Changes written after teardown are not applied.
	require.NoError(t, store.Write(context.Background(), "user-1", &models.MultiTripDocument{
		Trips: map[string]models.Trip{"x": tokyoTrip()},
	}))
	assert.Empty(t, repo.State().Trips)
}

// stallingStore blocks the nth write until release is closed.
type stallingStore struct {
	*MemoryDocumentStore

	mu      sync.Mutex
	writes  int
	stallOn int
	stalled chan struct{}
	release chan struct{}
}

func newStallingStore(stallOn int) *stallingStore {
	return &stallingStore{
		MemoryDocumentStore: NewMemoryDocumentStore(),
		stallOn:             stallOn,
		stalled:             make(chan struct{}),
		release:             make(chan struct{}),
	}
}

func (s *stallingStore) Write(ctx context.Context, userID string, doc *models.MultiTripDocument) error {
	s.mu.Lock()
	s.writes++
	n := s.writes
	s.mu.Unlock()
	if n == s.stallOn {
		close(s.stalled)
		<-s.release
	}
	return s.MemoryDocumentStore.Write(ctx, userID, doc)
}

func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.UnixMilli(1700000000000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func addExpense(e models.Expense) func(w *WorkingTrip) error {
	return func(w *WorkingTrip) error {
		w.Expenses = append(w.Expenses, e)
		return nil
	}
}

func TestMutate_SlowWriteDoesNotOverwriteNewerCommit(t *testing.T) {
	store := newStallingStore(2)
	repo := NewTripRepository(store, Session{UserID: "user-1"},
		WithRetries(0), WithTripIDs(sequentialIDs()), WithClock(tickingClock()))
	require.NoError(t, repo.Load(context.Background()))
	repo.StartTrip(context.Background(), tokyoTrip())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, repo.Mutate(context.Background(), addExpense(models.Expense{ID: 1, Amount: 10, Title: "Train", Payer: "Alice"})))
	}()
	<-store.stalled

	go func() {
		defer wg.Done()
		assert.NoError(t, repo.Mutate(context.Background(), addExpense(models.Expense{ID: 2, Amount: 20, Title: "Lunch", Payer: "Bob"})))
	}()
	require.Eventually(t, func() bool { return len(repo.State().Expenses) == 2 }, time.Second, time.Millisecond)

	close(store.release)
	wg.Wait()

	state := repo.State()
	assert.Len(t, state.Expenses, 2)
	assert.Equal(t, models.SyncStatusOnline, state.SyncStatus)
	assert.False(t, state.Dirty)
	assert.Len(t, decodeStored(t, store.MemoryDocumentStore).Trips[state.CurrentTripID].Expenses, 2)
}

func TestSnapshot_OlderDocumentIgnoredWhileLocalWritePending(t *testing.T) {
	store := newFlakyStore()
	repo := NewTripRepository(store, Session{UserID: "user-1"},
		WithRetries(0), WithTripIDs(sequentialIDs()), WithClock(tickingClock()))
	require.NoError(t, repo.Load(context.Background()))
	id := repo.StartTrip(context.Background(), tokyoTrip())
	older := decodeStored(t, store.MemoryDocumentStore)

	store.setFailing(true)
	require.NoError(t, repo.Mutate(context.Background(), addExpense(models.Expense{ID: 1, Amount: 5, Title: "Snacks", Payer: "Me"})))
	require.True(t, repo.State().Dirty)

	store.MemoryDocumentStore.Put("user-1", mustJSON(t, older))
	assert.Len(t, repo.State().Expenses, 1, "stale snapshot must not roll back the pending edit")

	newer := decodeStored(t, store.MemoryDocumentStore)
	newer.LastModified = 1800000000000
	trip := newer.Trips[id]
	trip.Settings.Destination = "Nagoya"
	newer.Trips[id] = trip
	store.MemoryDocumentStore.Put("user-1", mustJSON(t, newer))
	assert.Equal(t, "Nagoya", repo.State().Settings.Destination)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestTeardown_ClosesDone(t *testing.T) {
	repo := newTestRepo(NewMemoryDocumentStore())
	require.NoError(t, repo.Load(context.Background()))

	select {
	case <-repo.Done():
		t.Fatal("done closed before teardown")
	default:
	}

	repo.Teardown()
	repo.Teardown()
	select {
	case <-repo.Done():
	default:
		t.Fatal("done not closed after teardown")
	}
}

func sampleTrip(n int) ([]models.ItineraryItem, []models.Expense) {
	items := make([]models.ItineraryItem, 0, n)
	expenses := make([]models.Expense, 0, n)
	for i := 0; i < n; i++ {
		item := models.ItineraryItem{
			ID:       int64(1000 + i),
			DayIndex: i % 3,
			Time:     fmt.Sprintf("%02d:%02d", 6+i%12, (i*7)%60),
			Location: fmt.Sprintf("Stop %d", i),
			Kind:     models.ItemKindActivity,
		}
		if i%4 == 0 {
			item.Kind = models.ItemKindTransport
			item.Mode = models.TransportModeTrain
			item.Number = fmt.Sprintf("N%d", i)
			item.Origin = "Tokyo Station"
			item.EndTime = "23:59"
		}
		if i%2 == 0 {
			item.SetCoordinates(&models.Coordinates{Lat: 35 + float64(i)/100, Lon: 139 + float64(i)/100})
			item.Weather = &models.Weather{Temp: 10 + i%15, Code: i % 4}
		}
		if i%5 == 0 {
			item.Note = "book ahead"
		}
		items = append(items, item)
		expenses = append(expenses, models.Expense{
			ID:     int64(5000 + i),
			Amount: float64(i) * 1.25,
			Title:  fmt.Sprintf("Expense %d", i),
			Payer:  []string{"Alice", "Bob", "Carol"}[i%3],
		})
	}
	return items, expenses
}

func TestSave_ReloadInFreshSessionRoundTrips(t *testing.T) {
	for _, n := range []int{0, 1, 50} {
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			store := NewMemoryDocumentStore()
			repo := newTestRepo(store)
			require.NoError(t, repo.Load(context.Background()))
			trip := tokyoTrip()
			trip.Settings.Days = 3
			id := repo.StartTrip(context.Background(), trip)

			items, expenses := sampleTrip(n)
			repo.Save(context.Background(), OverrideItinerary(items), OverrideExpenses(expenses))
			repo.Teardown()

			fresh := newTestRepo(store)
			require.NoError(t, fresh.Load(context.Background()))
			state := fresh.State()

			assert.Equal(t, id, state.CurrentTripID)
			assert.Equal(t, trip.Settings, state.Settings)
			assert.Equal(t, items, state.Itinerary)
			assert.Equal(t, expenses, state.Expenses)
		})
	}
}
