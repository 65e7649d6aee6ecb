package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"skin-analysis-backend/internal/analysis"
	"skin-analysis-backend/internal/camera"
	"skin-analysis-backend/internal/models"
	"skin-analysis-backend/internal/persistence"
	"skin-analysis-backend/internal/realtime"
	"skin-analysis-backend/internal/supabase"
)

// CaptureService drives one capture event end to end: gate on camera
// readiness, run the strategy ladder, convert to a data URI, upload the
// image, analyze, and commit through the persistence coordinator. Stages run
// in program order; overlapping flows for the same user queue at the save
// stage only.
type CaptureService struct {
	controller  *camera.Controller
	runner      *camera.StrategyRunner
	analyzer    analysis.Analyzer
	coordinator *persistence.Coordinator

	storageClient  *supabase.StorageClient
	realtimeClient *supabase.RealtimeClient
	hub            *realtime.Hub
	fileLoader     camera.FileLoader
}

func NewCaptureService(
	controller *camera.Controller,
	runner *camera.StrategyRunner,
	analyzer analysis.Analyzer,
	coordinator *persistence.Coordinator,
	storageClient *supabase.StorageClient,
	realtimeClient *supabase.RealtimeClient,
	hub *realtime.Hub,
) *CaptureService {
	return &CaptureService{
		controller:     controller,
		runner:         runner,
		analyzer:       analyzer,
		coordinator:    coordinator,
		storageClient:  storageClient,
		realtimeClient: realtimeClient,
		hub:            hub,
		fileLoader:     camera.OSFileLoader,
	}
}

// NewAnalysisService builds a CaptureService with no camera wired: only the
// analyze-and-save half of the pipeline is usable. This is the server-side
// configuration; device clients own the camera and the full flow.
func NewAnalysisService(
	analyzer analysis.Analyzer,
	coordinator *persistence.Coordinator,
	storageClient *supabase.StorageClient,
	realtimeClient *supabase.RealtimeClient,
	hub *realtime.Hub,
) *CaptureService {
	return &CaptureService{
		analyzer:       analyzer,
		coordinator:    coordinator,
		storageClient:  storageClient,
		realtimeClient: realtimeClient,
		hub:            hub,
		fileLoader:     camera.OSFileLoader,
	}
}

// SetFileLoader overrides the file-to-bytes fallback reader.
func (s *CaptureService) SetFileLoader(loader camera.FileLoader) {
	s.fileLoader = loader
}

// StartCamera acquires permission and brings the camera up.
func (s *CaptureService) StartCamera(ctx context.Context) error {
	if s.controller == nil {
		return fmt.Errorf("no camera wired into this service")
	}
	return s.controller.StartCamera(ctx)
}

// StopCamera returns the controller to idle. An in-flight capture observes
// this as a failed attempt; it is never silently ignored.
func (s *CaptureService) StopCamera() {
	if s.controller != nil {
		s.controller.StopCamera()
	}
}

// CaptureAndAnalyze runs one full capture event. The capture session reaches
// a terminal state exactly once: either a saved record is returned or a typed
// error is, never neither.
func (s *CaptureService) CaptureAndAnalyze(ctx context.Context, userID uuid.UUID, sessionID string) (*persistence.SaveResult, error) {
	if s.controller == nil || s.runner == nil {
		return nil, fmt.Errorf("no camera wired into this service")
	}
	if !s.controller.IsCameraReady() {
		return nil, camera.ErrCameraNotReady
	}
	if err := s.controller.BeginCapture(); err != nil {
		return nil, err
	}

	photo, err := s.runner.Run(ctx)
	s.controller.FinishCapture(err)
	if err != nil {
		s.publish(userID, "capture_failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	dataURI, err := photo.DataURI(s.fileLoader)
	if err != nil {
		s.publish(userID, "capture_failed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", camera.ErrCaptureFailed, err)
	}

	return s.AnalyzeAndSave(ctx, userID, sessionID, dataURI, nil)
}

// AnalyzeAndSave is the server-side half of the pipeline, shared by the
// device capture flow above and the HTTP ingestion endpoint. hints is
// optional client context forwarded verbatim to the analyzer.
func (s *CaptureService) AnalyzeAndSave(ctx context.Context, userID uuid.UUID, sessionID, imageDataURI string, hints map[string]interface{}) (*persistence.SaveResult, error) {
	s.publish(userID, "analysis_started", supabase.AnalysisStartedPayload(userID, sessionID))

	imageURL := s.uploadImage(userID, imageDataURI)

	result, err := s.analyzer.Analyze(ctx, imageDataURI, sessionID, userID.String(), hints)
	if err != nil {
		s.publish(userID, "analysis_failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	rec := &models.AnalysisRecord{
		UserID:          userID,
		Scores:          result.Scores,
		Confidence:      result.Confidence,
		Recommendations: result.Recommendations,
		RawAnalysis:     result.Raw,
	}
	if sessionID != "" {
		rec.SessionID = sql.NullString{String: sessionID, Valid: true}
	}
	if imageURL != "" {
		rec.ImageURL = sql.NullString{String: imageURL, Valid: true}
	}

	saved, err := s.coordinator.Save(ctx, rec)
	if err != nil {
		s.publish(userID, "save_failed", supabase.SaveFailedPayload(userID, err.Error()))
		return nil, err
	}

	payload := supabase.AnalysisCompletedPayload(userID, saved.Record.ID, saved.Record.Scores.Overall)
	s.publish(userID, "save_completed", payload)
	if s.realtimeClient != nil {
		if err := s.realtimeClient.PublishUserEvent(userID, "analysis_completed", payload); err != nil {
			log.Printf("capture: failed to publish realtime event: %v", err)
		}
	}

	return saved, nil
}

// uploadImage stores the capture and returns its public URL. Upload failures
// degrade to an empty URL: the analysis record is worth keeping even when the
// image copy is not.
func (s *CaptureService) uploadImage(userID uuid.UUID, imageDataURI string) string {
	if s.storageClient == nil {
		return ""
	}
	data, err := decodeImagePayload(imageDataURI)
	if err != nil {
		log.Printf("capture: skipping image upload: %v", err)
		return ""
	}
	_, publicURL, err := s.storageClient.UploadCapture(userID, data)
	if err != nil {
		log.Printf("capture: image upload failed: %v", err)
		return ""
	}
	return publicURL
}

func (s *CaptureService) publish(userID uuid.UUID, eventType string, payload map[string]interface{}) {
	if s.hub != nil {
		s.hub.Publish(userID.String(), eventType, payload)
	}
}

func decodeImagePayload(uri string) ([]byte, error) {
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		idx := strings.Index(uri, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data uri")
		}
		payload = uri[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return data, nil
}
