package persistence_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skin-analysis-backend/internal/models"
	"skin-analysis-backend/internal/persistence"
)

// fakeStore is an in-memory RecordStore with per-method error injection and
// concurrency instrumentation for the lock-serialization test.
type fakeStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.AnalysisRecord

	insertErrs []error
	updateErrs []error
	latestErrs []error

	inCommit    int
	maxInCommit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uuid.UUID]*models.AnalysisRecord)}
}

func (s *fakeStore) popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (s *fakeStore) enterCommit() {
	s.inCommit++
	if s.inCommit > s.maxInCommit {
		s.maxInCommit = s.inCommit
	}
}

func (s *fakeStore) Insert(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	if err := s.popErr(&s.insertErrs); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.enterCommit()
	s.mu.Unlock()

	// Off-lock window so overlapping commits would be observable.
	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inCommit--

	saved := *rec
	now := time.Now()
	saved.CreatedAt = now
	saved.UpdatedAt = now
	s.records[saved.ID] = &saved
	return &saved, nil
}

func (s *fakeStore) Update(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popErr(&s.updateErrs); err != nil {
		return nil, err
	}
	existing, ok := s.records[rec.ID]
	if !ok {
		return nil, errors.New("record not found")
	}
	saved := *rec
	saved.CreatedAt = existing.CreatedAt
	saved.UpdatedAt = time.Now()
	s.records[saved.ID] = &saved
	return &saved, nil
}

func (s *fakeStore) GetByID(id uuid.UUID) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (s *fakeStore) LatestForUser(userID uuid.UUID, since time.Time) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popErr(&s.latestErrs); err != nil {
		return nil, err
	}
	var latest *models.AnalysisRecord
	for _, rec := range s.records {
		if rec.UserID != userID || rec.CreatedAt.Before(since) {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeStore) ListForUser(userID uuid.UUID, limit int) ([]models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []models.AnalysisRecord
	for _, rec := range s.records {
		if rec.UserID == userID && len(records) < limit {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newTestCoordinator(store persistence.RecordStore) (*persistence.Coordinator, *persistence.UserCache) {
	cache := persistence.NewUserCache()
	coordinator := persistence.NewCoordinator(store, cache)
	coordinator.Backoff = []time.Duration{time.Millisecond, 2 * time.Millisecond}
	return coordinator, cache
}

func validRecord(userID uuid.UUID) *models.AnalysisRecord {
	return &models.AnalysisRecord{
		UserID: userID,
		Scores: models.SkinScores{
			Overall: 72, Hydration: 65, Oiliness: 50, Texture: 70, Pigmentation: 68,
		},
		Confidence:      0.9,
		Recommendations: []string{"use sunscreen"},
	}
}

func TestCoordinator_SaveInsertsFreshRecord(t *testing.T) {
	store := newFakeStore()
	coordinator, _ := newTestCoordinator(store)

	userID := uuid.New()
	result, err := coordinator.Save(context.Background(), validRecord(userID))
	require.NoError(t, err)

	assert.False(t, result.Deduplicated)
	assert.NotEqual(t, uuid.Nil, result.Record.ID)
	assert.Equal(t, 1, store.count())
}

func TestCoordinator_ValidationRunsBeforeAnyIO(t *testing.T) {
	store := newFakeStore()
	coordinator, _ := newTestCoordinator(store)

	rec := validRecord(uuid.New())
	rec.Scores.Overall = 150

	_, err := coordinator.Save(context.Background(), rec)

	var validationErr *persistence.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 0, store.count())

	_, err = coordinator.Save(context.Background(), nil)
	require.ErrorAs(t, err, &validationErr)

	rec = validRecord(uuid.Nil)
	_, err = coordinator.Save(context.Background(), rec)
	require.ErrorAs(t, err, &validationErr)

	rec = validRecord(uuid.New())
	rec.Confidence = 1.3
	_, err = coordinator.Save(context.Background(), rec)
	require.ErrorAs(t, err, &validationErr)
}

func TestCoordinator_DedupBySessionUpdatesInPlace(t *testing.T) {
	store := newFakeStore()
	coordinator, _ := newTestCoordinator(store)
	userID := uuid.New()

	first := validRecord(userID)
	first.SessionID = sql.NullString{String: "session-1", Valid: true}
	saved, err := coordinator.Save(context.Background(), first)
	require.NoError(t, err)

	// Re-submission 90 seconds later in coordinator terms: still inside the
	// default window, same session, moved score.
	second := validRecord(userID)
	second.SessionID = sql.NullString{String: "session-1", Valid: true}
	second.Scores.Overall = 75
	second.ImageURL = sql.NullString{String: "https://cdn/img-2.jpg", Valid: true}

	result, err := coordinator.Save(context.Background(), second)
	require.NoError(t, err)

	assert.True(t, result.Deduplicated)
	assert.Equal(t, saved.Record.ID, result.Record.ID)
	assert.Equal(t, 75, result.Record.Scores.Overall)
	assert.Equal(t, 1, store.count())
}

func TestCoordinator_DedupByIdenticalImageURL(t *testing.T) {
	store := newFakeStore()
	coordinator, _ := newTestCoordinator(store)
	userID := uuid.New()

	first := validRecord(userID)
	first.ImageURL = sql.NullString{String: "https://cdn/abc123.jpg", Valid: true}
	saved, err := coordinator.Save(context.Background(), first)
	require.NoError(t, err)

	second := validRecord(userID)
	second.Scores.Overall = 40 // large delta, but the bytes are the same image
	second.ImageURL = sql.NullString{String: "https://cdn/abc123.jpg", Valid: true}

	result, err := coordinator.Save(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	assert.Equal(t, saved.Record.ID, result.Record.ID)
	assert.Equal(t, 1, store.count())
}

func TestCoordinator_DedupByScoreDeltaWithoutNewImage(t *testing.T) {
	store := newFakeStore()
	coordinator, _ := newTestCoordinator(store)
	userID := uuid.New()

	first := validRecord(userID)
	first.ImageURL = sql.NullString{String: "https://cdn/first.jpg", Valid: true}
	saved, err := coordinator.Save(context.Background(), first)
	require.NoError(t, err)

	// No image on the re-submission and the overall score moved within the
	// threshold: treated as the same event, and the stored image URL is kept.
	second := validRecord(userID)
	second.Scores.Overall = first.Scores.Overall + 3

	result, err := coordinator.Save(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	assert.Equal(t, saved.Record.ID, result.Record.ID)
	assert.Equal(t, "https://cdn/first.jpg", result.Record.ImageURL.String)
	assert.Equal(t, 1, store.count())
}

func TestCoordinator_DistinctEventsInsertSeparately(t *testing.T) {
	store := newFakeStore()
	coordinator, _ := newTestCoordinator(store)
	userID := uuid.New()

	first := validRecord(userID)
	first.SessionID = sql.NullString{String: "session-1", Valid: true}
	first.ImageURL = sql.NullString{String: "https://cdn/first.jpg", Valid: true}
	_, err := coordinator.Save(context.Background(), first)
	require.NoError(t, err)

	second := validRecord(userID)
	second.SessionID = sql.NullString{String: "session-2", Valid: true}
	second.ImageURL = sql.NullString{String: "https://cdn/second.jpg", Valid: true}
	second.Scores.Overall = 90

	result, err := coordinator.Save(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, result.Deduplicated)
	assert.Equal(t, 2, store.count())
}

func TestCoordinator_RetriesTransientErrors(t *testing.T) {
	store := newFakeStore()
	store.latestErrs = []error{
		&persistence.TransientError{Err: errors.New("connection reset")},
		&persistence.TransientError{Err: errors.New("connection reset")},
	}
	coordinator, _ := newTestCoordinator(store)

	result, err := coordinator.Save(context.Background(), validRecord(uuid.New()))
	require.NoError(t, err)
	assert.False(t, result.Deduplicated)
	assert.Equal(t, 1, store.count())
}

func TestCoordinator_RetryExhaustionSurfacesLastError(t *testing.T) {
	store := newFakeStore()
	store.latestErrs = []error{
		&persistence.TransientError{Err: errors.New("too many connections")},
		&persistence.TransientError{Err: errors.New("too many connections")},
		&persistence.TransientError{Err: errors.New("too many connections")},
	}
	coordinator, _ := newTestCoordinator(store)

	_, err := coordinator.Save(context.Background(), validRecord(uuid.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many connections")
	assert.Equal(t, 0, store.count())
}

func TestCoordinator_NonTransientErrorsAreNotRetried(t *testing.T) {
	store := newFakeStore()
	store.insertErrs = []error{errors.New("constraint violation")}
	coordinator, _ := newTestCoordinator(store)

	_, err := coordinator.Save(context.Background(), validRecord(uuid.New()))
	require.Error(t, err)
	// One failed insert, no retries, nothing persisted.
	assert.Equal(t, 0, store.count())
	assert.Empty(t, store.insertErrs)
}

func TestCoordinator_ConcurrentSavesForOneUserSerialize(t *testing.T) {
	store := newFakeStore()
	coordinator, _ := newTestCoordinator(store)
	// Force every save down the insert path so the instrumented section runs.
	coordinator.DedupWindow = 0
	coordinator.ScoreDeltaThreshold = -1

	userID := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := validRecord(userID)
			rec.Scores.Overall = 50 + n
			_, err := coordinator.Save(context.Background(), rec)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.maxInCommit, "commits for one user must not overlap")
}

func TestCoordinator_SaveInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	coordinator, cache := newTestCoordinator(store)
	userID := uuid.New()

	stale := validRecord(userID)
	stale.ID = uuid.New()
	cache.SetLatest(userID, stale)
	cache.SetAIContext(userID, "stale context")

	result, err := coordinator.Save(context.Background(), validRecord(userID))
	require.NoError(t, err)

	_, ok := cache.Latest(userID)
	assert.False(t, ok)
	_, ok = cache.AIContext(userID)
	assert.False(t, ok)

	latest, err := coordinator.Latest(userID)
	require.NoError(t, err)
	assert.Equal(t, result.Record.ID, latest.ID)
}

func TestCoordinator_LatestPrefersCache(t *testing.T) {
	store := newFakeStore()
	coordinator, cache := newTestCoordinator(store)
	userID := uuid.New()

	cached := validRecord(userID)
	cached.ID = uuid.New()
	cache.SetLatest(userID, cached)
	// Poison the store: a hit here proves the cache was bypassed.
	store.latestErrs = []error{errors.New("store should not be consulted")}

	latest, err := coordinator.Latest(userID)
	require.NoError(t, err)
	assert.Equal(t, cached.ID, latest.ID)
}

func TestCoordinator_SaveCanceledDuringBackoff(t *testing.T) {
	store := newFakeStore()
	store.latestErrs = []error{
		&persistence.TransientError{Err: errors.New("timeout")},
	}
	coordinator, _ := newTestCoordinator(store)
	coordinator.Backoff = []time.Duration{time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coordinator.Save(ctx, validRecord(uuid.New()))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
