package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/metrics"
	"travelflow-backend/models"

	"github.com/google/uuid"
	"github.com/r3labs/diff/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// ErrNoChange is returned from a Mutate callback to leave the trip untouched
// without reporting an error.
var ErrNoChange = errors.New("no change")

// Session identifies the signed-in user a repository belongs to.
type Session struct {
	UserID    string
	StartedAt time.Time
}

// TripState is a deep copy of everything a repository holds.
type TripState struct {
	Trips         map[string]models.Trip `json:"trips"`
	CurrentTripID string                 `json:"currentTripId"`
	Settings      models.TripSettings    `json:"settings"`
	Itinerary     []models.ItineraryItem `json:"itinerary"`
	Expenses      []models.Expense       `json:"expenses"`
	SyncStatus    models.SyncStatus      `json:"syncStatus"`
	Dirty         bool                   `json:"dirty"`
}

// WorkingTrip is the mutable view handed to Mutate callbacks.
type WorkingTrip struct {
	Settings  models.TripSettings
	Itinerary []models.ItineraryItem
	Expenses  []models.Expense
}

type RepositoryOption func(*TripRepository)

func WithRetries(n uint64) RepositoryOption {
	return func(r *TripRepository) { r.retries = n }
}

func WithBackoff(base time.Duration) RepositoryOption {
	return func(r *TripRepository) { r.backoff = base }
}

func WithClock(now func() time.Time) RepositoryOption {
	return func(r *TripRepository) { r.now = now }
}

func WithTripIDs(next func() string) RepositoryOption {
	return func(r *TripRepository) { r.newID = next }
}

// TripRepository holds one user's trip collection and the working copy of the
// selected trip, mirroring them to a DocumentStore.
type TripRepository struct {
	store   DocumentStore
	session Session
	retries uint64
	backoff time.Duration
	now     func() time.Time
	newID   func() string

	// writeMu orders store writes so an older document never lands last.
	writeMu sync.Mutex

	mu            sync.Mutex
	trips         map[string]models.Trip
	currentTripID string
	settings      models.TripSettings
	itinerary     []models.ItineraryItem
	expenses      []models.Expense
	status        models.SyncStatus
	dirty         bool
	writeSeq      uint64
	persistedSeq  uint64
	committedAt   int64
	migrated      bool
	closed        bool
	sub           Subscription
	loading       bool
	ready         chan struct{}
	done          chan struct{}
	readyOnce     sync.Once
	listeners     map[int]func(TripState)
	nextListener  int
}

func NewTripRepository(store DocumentStore, session Session, opts ...RepositoryOption) *TripRepository {
	r := &TripRepository{
		store:     store,
		session:   session,
		retries:   3,
		backoff:   200 * time.Millisecond,
		now:       time.Now,
		newID:     uuid.NewString,
		status:    models.SyncStatusOffline,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[int]func(TripState)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resetWorkingLocked()
	r.trips = make(map[string]models.Trip)
	return r
}

func (r *TripRepository) UserID() string {
	return r.session.UserID
}

// Load subscribes to the user's document and waits for the first snapshot or
// subscription error. Every snapshot replaces the local collection.
func (r *TripRepository) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if r.loading {
		r.mu.Unlock()
		return r.waitReady(ctx)
	}
	r.loading = true
	r.setStatusLocked(models.SyncStatusSyncing)
	r.mu.Unlock()
	r.notify()

	sub, err := r.store.Subscribe(ctx, r.session.UserID, r.applySnapshot, r.subscriptionFailed)
	if err != nil {
		r.subscriptionFailed(err)
		return apperrors.PersistenceError("subscribing to trip document", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Close()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()

	return r.waitReady(ctx)
}

func (r *TripRepository) waitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *TripRepository) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *TripRepository) subscriptionFailed(err error) {
	zap.L().Error("Trip document subscription failed",
		zap.String("user_id", r.session.UserID), zap.Error(err))
	r.mu.Lock()
	r.setStatusLocked(models.SyncStatusOffline)
	r.mu.Unlock()
	r.markReady()
	r.notify()
}

func (r *TripRepository) applySnapshot(raw []byte) {
	defer r.markReady()

	doc, err := models.DecodeUserDocument(raw)
	if err != nil {
		zap.L().Error("Discarding undecodable trip document",
			zap.String("user_id", r.session.UserID), zap.Error(err))
		r.mu.Lock()
		r.setStatusLocked(models.SyncStatusOffline)
		r.mu.Unlock()
		r.notify()
		return
	}

	var (
		migratedDoc *models.MultiTripDocument
		migratedSeq uint64
	)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	switch d := doc.(type) {
	case *models.MultiTripDocument:
		if r.dirty && d.LastModified < r.committedAt {
			// Echo of a write that a newer local commit supersedes.
			zap.L().Debug("Ignoring stale trip snapshot",
				zap.String("user_id", r.session.UserID),
				zap.Int64("snapshot_modified", d.LastModified),
				zap.Int64("committed_at", r.committedAt))
		} else {
			r.applyMultiTripLocked(d)
		}
	case *models.LegacyTripDocument:
		if !r.migrated {
			migratedDoc, migratedSeq = r.migrateLegacyLocked(d)
		}
	}
	r.setStatusLocked(models.SyncStatusOnline)
	r.mu.Unlock()
	r.notify()

	if migratedDoc != nil {
		r.persist(context.Background(), migratedDoc, migratedSeq)
	}
}

func (r *TripRepository) applyMultiTripLocked(d *models.MultiTripDocument) {
	before := r.workingTripLocked()

	r.trips = make(map[string]models.Trip, len(d.Trips))
	for id, t := range d.Trips {
		r.trips[id] = t.Clone()
	}

	selected := ""
	if _, ok := r.trips[d.CurrentTripID]; ok && d.CurrentTripID != "" {
		selected = d.CurrentTripID
	} else if ids := sortedTripIDs(r.trips); len(ids) > 0 {
		selected = ids[0]
	}

	switch {
	case selected != "":
		r.loadTripLocked(selected)
	case r.currentTripID != "":
		// The trip being edited no longer exists remotely.
		r.currentTripID = ""
		r.resetWorkingLocked()
	}

	after := r.workingTripLocked()
	changes, err := diff.Diff(before, after, diff.SliceOrdering(true))
	if err != nil {
		zap.L().Debug("Could not diff remote snapshot", zap.Error(err))
		return
	}
	if len(changes) == 0 {
		return
	}
	fields := []zap.Field{
		zap.String("user_id", r.session.UserID),
		zap.String("trip_id", r.currentTripID),
		zap.Int("changes", len(changes)),
	}
	if r.dirty {
		zap.L().Warn("Remote snapshot replaced unsynced local changes", fields...)
	} else {
		zap.L().Debug("Remote snapshot applied", fields...)
	}
}

func (r *TripRepository) migrateLegacyLocked(d *models.LegacyTripDocument) (*models.MultiTripDocument, uint64) {
	id := "legacy_" + r.newID()
	trip := d.ToTrip()
	trip.LastModified = r.now().UnixMilli()
	r.trips[id] = trip
	r.loadTripLocked(id)
	r.migrated = true

	zap.L().Info("Migrated legacy trip document",
		zap.String("user_id", r.session.UserID), zap.String("trip_id", id))
	return r.stampLocked(trip.LastModified)
}

type saveOptions struct {
	settings  *models.TripSettings
	itinerary []models.ItineraryItem
	expenses  []models.Expense
	hasItin   bool
	hasExp    bool
}

type SaveOption func(*saveOptions)

func OverrideSettings(s models.TripSettings) SaveOption {
	return func(o *saveOptions) { o.settings = &s }
}

func OverrideItinerary(items []models.ItineraryItem) SaveOption {
	return func(o *saveOptions) { o.itinerary, o.hasItin = items, true }
}

func OverrideExpenses(expenses []models.Expense) SaveOption {
	return func(o *saveOptions) { o.expenses, o.hasExp = expenses, true }
}

// Save snapshots the working trip, with any overrides applied, into the
// collection and writes the whole collection. It does nothing when no trip is
// selected. Write failures only change the sync status.
func (r *TripRepository) Save(ctx context.Context, opts ...SaveOption) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	if r.currentTripID == "" || r.closed {
		r.mu.Unlock()
		return
	}
	if o.settings != nil {
		r.settings = o.settings.Clone()
	}
	if o.hasItin {
		r.itinerary = models.CloneItinerary(o.itinerary)
	}
	if o.hasExp {
		r.expenses = models.CloneExpenses(o.expenses)
	}
	doc, seq := r.commitLocked()
	r.mu.Unlock()
	r.notify()

	r.persist(ctx, doc, seq)
}

// Mutate applies fn to a copy of the working trip and saves the result.
// Returning ErrNoChange from fn skips the save.
func (r *TripRepository) Mutate(ctx context.Context, fn func(w *WorkingTrip) error) error {
	r.mu.Lock()
	if r.currentTripID == "" || r.closed {
		r.mu.Unlock()
		return apperrors.ErrNoActiveTrip
	}
	w := &WorkingTrip{
		Settings:  r.settings.Clone(),
		Itinerary: models.CloneItinerary(r.itinerary),
		Expenses:  models.CloneExpenses(r.expenses),
	}
	if err := fn(w); err != nil {
		r.mu.Unlock()
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	r.settings = w.Settings
	r.itinerary = w.Itinerary
	r.expenses = w.Expenses
	doc, seq := r.commitLocked()
	r.mu.Unlock()
	r.notify()

	r.persist(ctx, doc, seq)
	return nil
}

func (r *TripRepository) commitLocked() (*models.MultiTripDocument, uint64) {
	now := r.now().UnixMilli()
	r.trips[r.currentTripID] = models.Trip{
		Settings:     r.settings.Clone(),
		Itinerary:    models.CloneItinerary(r.itinerary),
		Expenses:     models.CloneExpenses(r.expenses),
		LastModified: now,
	}
	return r.stampLocked(now)
}

// stampLocked marks the collection as changed and returns the document to
// write along with its sequence number.
func (r *TripRepository) stampLocked(now int64) (*models.MultiTripDocument, uint64) {
	r.dirty = true
	r.writeSeq++
	r.committedAt = now
	return r.documentLocked(now), r.writeSeq
}

// persist writes doc unless a newer document has already been stored. When
// newer commits exist the latest collection is written in its place.
func (r *TripRepository) persist(ctx context.Context, doc *models.MultiTripDocument, seq uint64) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if seq <= r.persistedSeq {
		r.mu.Unlock()
		return
	}
	if seq < r.writeSeq && !r.closed {
		doc, seq = r.documentLocked(r.committedAt), r.writeSeq
	}
	r.mu.Unlock()

	backoff := retry.WithMaxRetries(r.retries, retry.NewExponential(r.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := r.store.Write(ctx, r.session.UserID, doc); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	r.mu.Lock()
	if err != nil {
		metrics.PersistenceWritesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		zap.L().Error("Failed to persist trip document",
			zap.String("user_id", r.session.UserID), zap.Error(err))
		r.setStatusLocked(models.SyncStatusOffline)
	} else {
		metrics.PersistenceWritesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		r.persistedSeq = seq
		if seq == r.writeSeq {
			r.dirty = false
		}
		r.setStatusLocked(models.SyncStatusOnline)
	}
	r.mu.Unlock()
	r.notify()
}

// Flush re-sends the collection when an earlier write failed.
func (r *TripRepository) Flush(ctx context.Context) {
	r.mu.Lock()
	if !r.dirty || r.closed {
		r.mu.Unlock()
		return
	}
	doc, seq := r.stampLocked(r.now().UnixMilli())
	r.mu.Unlock()

	r.persist(ctx, doc, seq)
}

// CreateNewTrip resets the working state for a trip that is about to be set
// up. Nothing is written until the trip is started.
func (r *TripRepository) CreateNewTrip() {
	r.mu.Lock()
	r.currentTripID = ""
	r.resetWorkingLocked()
	r.mu.Unlock()
	r.notify()
}

// StartTrip stores trip under a freshly allocated id, selects it and saves.
func (r *TripRepository) StartTrip(ctx context.Context, trip models.Trip) string {
	id := r.newID()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ""
	}
	r.currentTripID = id
	r.settings = trip.Settings.Clone()
	r.itinerary = models.CloneItinerary(trip.Itinerary)
	r.expenses = models.CloneExpenses(trip.Expenses)
	doc, seq := r.commitLocked()
	r.mu.Unlock()
	r.notify()

	r.persist(ctx, doc, seq)
	return id
}

// SwitchTrip selects a trip from the local collection. Unknown ids are ignored.
func (r *TripRepository) SwitchTrip(tripID string) bool {
	r.mu.Lock()
	if _, ok := r.trips[tripID]; !ok {
		r.mu.Unlock()
		return false
	}
	r.loadTripLocked(tripID)
	r.mu.Unlock()
	r.notify()
	return true
}

// DeleteTrip removes a trip and writes the reduced collection. Deleting the
// selected trip selects the first remaining one, or resets to a new trip.
func (r *TripRepository) DeleteTrip(ctx context.Context, tripID string) bool {
	r.mu.Lock()
	if _, ok := r.trips[tripID]; !ok || r.closed {
		r.mu.Unlock()
		return false
	}
	delete(r.trips, tripID)
	if r.currentTripID == tripID {
		if ids := sortedTripIDs(r.trips); len(ids) > 0 {
			r.loadTripLocked(ids[0])
		} else {
			r.currentTripID = ""
			r.resetWorkingLocked()
		}
	}
	doc, seq := r.stampLocked(r.now().UnixMilli())
	r.mu.Unlock()
	r.notify()

	r.persist(ctx, doc, seq)
	return true
}

// Teardown ends the session: the subscription is closed and all trip data is
// dropped. The repository cannot be used afterwards.
func (r *TripRepository) Teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	sub := r.sub
	r.sub = nil
	r.closed = true
	r.trips = make(map[string]models.Trip)
	r.currentTripID = ""
	r.resetWorkingLocked()
	r.dirty = false
	r.setStatusLocked(models.SyncStatusOffline)
	close(r.done)
	r.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	r.notify()

	r.mu.Lock()
	r.listeners = make(map[int]func(TripState))
	r.mu.Unlock()
}

// Done is closed by Teardown.
func (r *TripRepository) Done() <-chan struct{} {
	return r.done
}

func (r *TripRepository) State() TripState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *TripRepository) SyncStatus() models.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *TripRepository) CurrentTripID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTripID
}

// Listen registers fn to receive a state copy after every change. The
// returned func unregisters it.
func (r *TripRepository) Listen(fn func(TripState)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextListener++
	id := r.nextListener
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *TripRepository) notify() {
	r.mu.Lock()
	if len(r.listeners) == 0 {
		r.mu.Unlock()
		return
	}
	state := r.stateLocked()
	fns := make([]func(TripState), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (r *TripRepository) stateLocked() TripState {
	trips := make(map[string]models.Trip, len(r.trips))
	for id, t := range r.trips {
		trips[id] = t.Clone()
	}
	return TripState{
		Trips:         trips,
		CurrentTripID: r.currentTripID,
		Settings:      r.settings.Clone(),
		Itinerary:     models.CloneItinerary(r.itinerary),
		Expenses:      models.CloneExpenses(r.expenses),
		SyncStatus:    r.status,
		Dirty:         r.dirty,
	}
}

func (r *TripRepository) documentLocked(now int64) *models.MultiTripDocument {
	trips := make(map[string]models.Trip, len(r.trips))
	for id, t := range r.trips {
		trips[id] = t.Clone()
	}
	return &models.MultiTripDocument{
		Trips:         trips,
		CurrentTripID: r.currentTripID,
		LastModified:  now,
	}
}

func (r *TripRepository) workingTripLocked() models.Trip {
	return models.Trip{
		Settings:  r.settings.Clone(),
		Itinerary: models.CloneItinerary(r.itinerary),
		Expenses:  models.CloneExpenses(r.expenses),
	}
}

func (r *TripRepository) loadTripLocked(id string) {
	t := r.trips[id]
	r.currentTripID = id
	r.settings = t.Settings.Clone()
	r.itinerary = models.CloneItinerary(t.Itinerary)
	r.expenses = models.CloneExpenses(t.Expenses)
}

func (r *TripRepository) resetWorkingLocked() {
	r.settings = models.DefaultSettings()
	r.itinerary = []models.ItineraryItem{}
	r.expenses = []models.Expense{}
}

func (r *TripRepository) setStatusLocked(s models.SyncStatus) {
	if r.status == s {
		return
	}
	r.status = s
	metrics.SyncStatusTransitions.WithLabelValues(string(s)).Inc()
}

func sortedTripIDs(trips map[string]models.Trip) []string {
	ids := make([]string, 0, len(trips))
	for id := range trips {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
