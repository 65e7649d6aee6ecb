package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skin-analysis-backend/internal/analysis"
	"skin-analysis-backend/internal/camera"
	"skin-analysis-backend/internal/models"
	"skin-analysis-backend/internal/persistence"
	"skin-analysis-backend/internal/services"
)

type fakeHandle struct {
	photo *camera.Photo
	err   error
}

func (h *fakeHandle) TakePicture(ctx context.Context, opts camera.CaptureOptions) (*camera.Photo, error) {
	return h.photo, h.err
}

type grantAll struct{}

func (grantAll) RequestCameraPermission(ctx context.Context) (bool, error) { return true, nil }

type fakeAnalyzer struct {
	mu        sync.Mutex
	calls     int
	lastURI   string
	lastHints map[string]interface{}
	result    *analysis.Result
	err       error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, imageDataURI, sessionID, userID string, hints map[string]interface{}) (*analysis.Result, error) {
	a.mu.Lock()
	a.calls++
	a.lastURI = imageDataURI
	a.lastHints = hints
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type memoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.AnalysisRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[uuid.UUID]*models.AnalysisRecord)}
}

func (s *memoryStore) Insert(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *rec
	saved.CreatedAt = time.Now()
	saved.UpdatedAt = saved.CreatedAt
	s.records[saved.ID] = &saved
	return &saved, nil
}

func (s *memoryStore) Update(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *rec
	saved.UpdatedAt = time.Now()
	s.records[saved.ID] = &saved
	return &saved, nil
}

func (s *memoryStore) GetByID(id uuid.UUID) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryStore) LatestForUser(userID uuid.UUID, since time.Time) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *memoryStore) ListForUser(userID uuid.UUID, limit int) ([]models.AnalysisRecord, error) {
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

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func goodResult() *analysis.Result {
	return &analysis.Result{
		Scores: models.SkinScores{
			Overall: 81, Hydration: 74, Oiliness: 52, Texture: 79, Pigmentation: 70,
		},
		Confidence:      0.93,
		Recommendations: []string{"moisturize daily"},
		Raw:             json.RawMessage(`{"success":true}`),
	}
}

type serviceFixture struct {
	service    *services.CaptureService
	controller *camera.Controller
	analyzer   *fakeAnalyzer
	store      *memoryStore
}

func newServiceFixture(t *testing.T, handle camera.Handle) *serviceFixture {
	t.Helper()

	registry := camera.NewHandleRegistry()
	controller := camera.NewController(registry, grantAll{})
	require.NoError(t, controller.StartCamera(context.Background()))
	if handle != nil {
		registry.Register(handle)
	}
	controller.HandleCameraReady()

	runner := camera.NewStrategyRunner(controller)
	runner.AttemptTimeout = 200 * time.Millisecond

	analyzer := &fakeAnalyzer{result: goodResult()}
	store := newMemoryStore()
	coordinator := persistence.NewCoordinator(store, persistence.NewUserCache())
	coordinator.Backoff = []time.Duration{time.Millisecond}

	service := services.NewCaptureService(controller, runner, analyzer, coordinator, nil, nil, nil)
	return &serviceFixture{
		service:    service,
		controller: controller,
		analyzer:   analyzer,
		store:      store,
	}
}

func TestCaptureService_CaptureAndAnalyzeHappyPath(t *testing.T) {
	defer camera.SetProcessHandle(nil)

	handle := &fakeHandle{photo: &camera.Photo{Base64: "Zm9vYmFy"}}
	fx := newServiceFixture(t, handle)
	userID := uuid.New()

	result, err := fx.service.CaptureAndAnalyze(context.Background(), userID, "session-1")
	require.NoError(t, err)

	assert.False(t, result.Deduplicated)
	assert.Equal(t, userID, result.Record.UserID)
	assert.Equal(t, 81, result.Record.Scores.Overall)
	assert.Equal(t, "session-1", result.Record.SessionID.String)
	assert.Equal(t, 1, fx.store.count())

	// The analyzer received the photo as a data URI.
	assert.Equal(t, "data:image/jpeg;base64,Zm9vYmFy", fx.analyzer.lastURI)

	// The capture session ended cleanly: the camera accepts the next one.
	assert.Equal(t, camera.StateReady, fx.controller.State())
}

func TestCaptureService_RejectsWhenCameraNotReady(t *testing.T) {
	defer camera.SetProcessHandle(nil)

	fx := newServiceFixture(t, nil) // ready signal but no handle
	_, err := fx.service.CaptureAndAnalyze(context.Background(), uuid.New(), "session-1")

	assert.ErrorIs(t, err, camera.ErrCameraNotReady)
	assert.Equal(t, 0, fx.analyzer.callCount())
	assert.Equal(t, 0, fx.store.count())
}

func TestCaptureService_CaptureFailureReachesTerminalStateOnce(t *testing.T) {
	defer camera.SetProcessHandle(nil)

	handle := &fakeHandle{err: errors.New("hardware glitch")}
	fx := newServiceFixture(t, handle)

	_, err := fx.service.CaptureAndAnalyze(context.Background(), uuid.New(), "session-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, camera.ErrCaptureExhausted)
	assert.Equal(t, 0, fx.analyzer.callCount())

	// FinishCapture ran exactly once and left the camera usable.
	assert.Equal(t, camera.StateReady, fx.controller.State())
	handle.err = nil
	handle.photo = &camera.Photo{Base64: "Zm9v"}
	_, err = fx.service.CaptureAndAnalyze(context.Background(), uuid.New(), "session-2")
	assert.NoError(t, err)
}

func TestCaptureService_AnalyzerFailureSavesNothing(t *testing.T) {
	defer camera.SetProcessHandle(nil)

	handle := &fakeHandle{photo: &camera.Photo{Base64: "Zm9v"}}
	fx := newServiceFixture(t, handle)
	fx.analyzer.err = &analysis.AnalysisError{StatusCode: 502, Message: "upstream down"}

	_, err := fx.service.CaptureAndAnalyze(context.Background(), uuid.New(), "session-1")

	var analysisErr *analysis.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, 0, fx.store.count())
	assert.Equal(t, camera.StateReady, fx.controller.State())
}

func TestCaptureService_AnalyzeAndSaveWithoutCamera(t *testing.T) {
	analyzer := &fakeAnalyzer{result: goodResult()}
	store := newMemoryStore()
	coordinator := persistence.NewCoordinator(store, persistence.NewUserCache())
	coordinator.Backoff = []time.Duration{time.Millisecond}

	service := services.NewAnalysisService(analyzer, coordinator, nil, nil, nil)
	userID := uuid.New()

	hints := map[string]interface{}{"skin_type": "dry"}
	result, err := service.AnalyzeAndSave(context.Background(), userID, "session-9", "data:image/jpeg;base64,Zm9v", hints)
	require.NoError(t, err)
	assert.Equal(t, userID, result.Record.UserID)
	assert.Equal(t, 1, store.count())
	// Client context reaches the analyzer untouched.
	assert.Equal(t, hints, analyzer.lastHints)

	// The camera half is simply absent, not broken.
	_, err = service.CaptureAndAnalyze(context.Background(), userID, "session-10")
	assert.Error(t, err)
	require.Error(t, service.StartCamera(context.Background()))
}

func TestCaptureService_FileURIFallback(t *testing.T) {
	defer camera.SetProcessHandle(nil)

	handle := &fakeHandle{photo: &camera.Photo{URI: "file:///tmp/shot.jpg"}}
	fx := newServiceFixture(t, handle)
	fx.service.SetFileLoader(func(uri string) ([]byte, error) {
		assert.Equal(t, "file:///tmp/shot.jpg", uri)
		return []byte("foobar"), nil
	})

	_, err := fx.service.CaptureAndAnalyze(context.Background(), uuid.New(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,Zm9vYmFy", fx.analyzer.lastURI)
}
