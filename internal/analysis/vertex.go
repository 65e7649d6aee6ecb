package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"skin-analysis-backend/internal/models"
)

const vertexPrompt = `Analyze the skin in this photo and score it in a structured format:
- overall (0-100)
- hydration (0-100)
- oiliness (0-100)
- texture (0-100)
- pigmentation (0-100)
- confidence (0-1)
- recommendations (short actionable strings)

Format the response as a JSON object with exactly one of "error" or "success" populated.
{
	"error": {
		"error_reason": "string"
	},
	"success": {
		"scores": {
			"overall": number,
			"hydration": number,
			"oiliness": number,
			"texture": number,
			"pigmentation": number
		},
		"confidence": number,
		"recommendations": ["string"]
	}
}`

// VertexAnalyzer scores images with a Vertex AI vision model instead of the
// remote analysis endpoint. Selected via ANALYZER_PROVIDER=vertex.
type VertexAnalyzer struct {
	projectID       string
	location        string
	credentialsFile string
	client          *genai.Client
	model           *genai.GenerativeModel
}

func NewVertexAnalyzer(projectID, location, credentialsFile string) *VertexAnalyzer {
	return &VertexAnalyzer{
		projectID:       projectID,
		location:        location,
		credentialsFile: credentialsFile,
	}
}

// Load initializes the Vertex client and model.
func (v *VertexAnalyzer) Load(ctx context.Context) error {
	opts := []option.ClientOption{}
	if v.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(v.credentialsFile))
	}

	client, err := genai.NewClient(ctx, v.projectID, v.location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create vertex client: %w", err)
	}

	v.client = client
	v.model = client.GenerativeModel("gemini-pro-vision")
	return nil
}

func (v *VertexAnalyzer) Analyze(ctx context.Context, imageDataURI, sessionID, userID string, hints map[string]interface{}) (*Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("analyze called without a session id")
	}
	if v.model == nil {
		return nil, fmt.Errorf("vertex analyzer not loaded")
	}

	imageData, err := decodeDataURI(imageDataURI)
	if err != nil {
		return nil, &AnalysisError{Message: err.Error()}
	}

	parts := []genai.Part{genai.Text(vertexPrompt)}
	if len(hints) > 0 {
		if encoded, err := json.Marshal(hints); err == nil {
			parts = append(parts, genai.Text("Client-provided context: "+string(encoded)))
		}
	}
	parts = append(parts, genai.ImageData("image/jpeg", imageData))

	resp, err := v.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &AnalysisError{Message: fmt.Sprintf("failed to call model: %v", err)}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &AnalysisError{Message: "no response generated"}
	}

	textContent := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])
	textContent = strings.TrimSpace(textContent)
	textContent = strings.TrimPrefix(textContent, "```json")
	textContent = strings.TrimPrefix(textContent, "```")
	textContent = strings.TrimSuffix(textContent, "```")
	textContent = strings.TrimSpace(textContent)

	var output struct {
		Error *struct {
			ErrorReason string `json:"error_reason"`
		} `json:"error"`
		Success *struct {
			Scores          scoresPayload `json:"scores"`
			Confidence      float64       `json:"confidence"`
			Recommendations []string      `json:"recommendations"`
		} `json:"success"`
	}
	if err := json.Unmarshal([]byte(textContent), &output); err != nil {
		return nil, &AnalysisError{Message: fmt.Sprintf("malformed model response: %v", err)}
	}
	if output.Error != nil && output.Error.ErrorReason != "" {
		return nil, &AnalysisError{Message: output.Error.ErrorReason}
	}
	if output.Success == nil {
		return nil, &AnalysisError{Message: "model returned neither success nor error"}
	}

	result := &Result{
		Scores: models.SkinScores{
			Overall:      output.Success.Scores.Overall,
			Hydration:    output.Success.Scores.Hydration,
			Oiliness:     output.Success.Scores.Oiliness,
			Texture:      output.Success.Scores.Texture,
			Pigmentation: output.Success.Scores.Pigmentation,
		},
		Confidence:      output.Success.Confidence,
		Recommendations: output.Success.Recommendations,
		Raw:             json.RawMessage(textContent),
	}
	if err := result.Validate(); err != nil {
		return nil, &AnalysisError{Message: fmt.Sprintf("invalid payload: %v", err)}
	}
	return result, nil
}

// Close releases the underlying client.
func (v *VertexAnalyzer) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func decodeDataURI(uri string) ([]byte, error) {
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
		return nil, fmt.Errorf("failed to decode image payload: %v", err)
	}
	return data, nil
}
