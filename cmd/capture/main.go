// Command capture runs the device half of the pipeline: it opens the local
// webcam, walks the capture strategy ladder, and submits the photo to the
// backend's analysis endpoint.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"skin-analysis-backend/internal/camera"
	"skin-analysis-backend/internal/camera/webcam"
	"skin-analysis-backend/internal/models"
)

// localPermission grants camera access unconditionally: on a workstation the
// operator launching the process is the consent.
type localPermission struct{}

func (localPermission) RequestCameraPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func main() {
	deviceID := flag.Int("device", 0, "video device id")
	serverURL := flag.String("server", "http://localhost:8080", "backend base URL")
	token := flag.String("token", "", "bearer token for the backend")
	timeout := flag.Duration("timeout", 4*time.Second, "per-attempt capture timeout")
	flag.Parse()

	if *token == "" {
		log.Fatal("a bearer token is required (-token)")
	}

	handle, err := webcam.Open(*deviceID)
	if err != nil {
		log.Fatalf("Failed to open camera: %v", err)
	}
	defer handle.Close()

	registry := camera.NewHandleRegistry()
	controller := camera.NewController(registry, localPermission{})

	ctx := context.Background()
	if err := controller.StartCamera(ctx); err != nil {
		log.Fatalf("Failed to start camera: %v", err)
	}
	registry.Register(handle)
	controller.HandleCameraReady()

	runner := camera.NewStrategyRunner(controller)
	runner.AttemptTimeout = *timeout

	if err := controller.BeginCapture(); err != nil {
		log.Fatalf("Capture rejected: %v", err)
	}
	photo, err := runner.Run(ctx)
	controller.FinishCapture(err)
	if err != nil {
		log.Fatalf("Capture failed: %v", err)
	}

	dataURI, err := photo.DataURI(camera.OSFileLoader)
	if err != nil {
		log.Fatalf("Failed to encode photo: %v", err)
	}

	sessionID := uuid.New().String()
	resp, err := submit(*serverURL, *token, dataURI, sessionID)
	if err != nil {
		log.Fatalf("Submission failed: %v", err)
	}

	fmt.Printf("session %s saved as record %s (overall %d, deduplicated=%v)\n",
		sessionID, resp.ID, resp.Scores.Overall, resp.Deduplicated)
}

func submit(serverURL, token, dataURI, sessionID string) (*models.RecordResponse, error) {
	body, err := json.Marshal(models.AnalyzeRequest{
		Image:     dataURI,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", serverURL+"/api/v1/analysis", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(payload))
	}

	var record models.RecordResponse
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &record, nil
}
