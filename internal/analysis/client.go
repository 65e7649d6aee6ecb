package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skin-analysis-backend/internal/models"
)

// Client calls the remote skin-analysis HTTP endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type analyzeRequest struct {
	Image     string                 `json:"image"`
	SessionID string                 `json:"sessionId"`
	UserID    string                 `json:"userId"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

type scoresPayload struct {
	Overall      int `json:"overall"`
	Hydration    int `json:"hydration"`
	Oiliness     int `json:"oiliness"`
	Texture      int `json:"texture"`
	Pigmentation int `json:"pigmentation"`
}

type analyzeResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Scores          scoresPayload `json:"scores"`
		Confidence      float64       `json:"confidence"`
		Recommendations []string      `json:"recommendations"`
	} `json:"data"`
	Error string `json:"error"`
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Analyze submits the image and session identifiers and normalizes the
// response. Any non-success status or malformed payload becomes a typed
// *AnalysisError; only a missing session is treated as a programmer error.
func (c *Client) Analyze(ctx context.Context, imageDataURI, sessionID, userID string, hints map[string]interface{}) (*Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("analyze called without a session id")
	}
	if imageDataURI == "" {
		return nil, &AnalysisError{Message: "no image supplied"}
	}

	jsonData, err := json.Marshal(analyzeRequest{
		Image:     imageDataURI,
		SessionID: sessionID,
		UserID:    userID,
		Context:   hints,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.baseURL, "/") + "/analyze"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &AnalysisError{Message: fmt.Sprintf("failed to execute request: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AnalysisError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response body: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &AnalysisError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result analyzeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &AnalysisError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if !result.Success || result.Data == nil {
		msg := result.Error
		if msg == "" {
			msg = "analysis service reported failure without detail"
		}
		return nil, &AnalysisError{StatusCode: resp.StatusCode, Message: msg}
	}

	out := &Result{
		Scores: models.SkinScores{
			Overall:      result.Data.Scores.Overall,
			Hydration:    result.Data.Scores.Hydration,
			Oiliness:     result.Data.Scores.Oiliness,
			Texture:      result.Data.Scores.Texture,
			Pigmentation: result.Data.Scores.Pigmentation,
		},
		Confidence:      result.Data.Confidence,
		Recommendations: result.Data.Recommendations,
		Raw:             json.RawMessage(body),
	}
	if err := out.Validate(); err != nil {
		return nil, &AnalysisError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid payload: %v", err)}
	}
	return out, nil
}
