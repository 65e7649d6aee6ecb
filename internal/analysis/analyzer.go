package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"skin-analysis-backend/internal/models"
)

// Result is a normalized analysis outcome. Immutable once received; the raw
// service payload is kept verbatim for persistence.
type Result struct {
	Scores          models.SkinScores
	Confidence      float64
	Recommendations []string
	Raw             json.RawMessage
}

// Validate applies the local schema checks: score ranges and confidence
// bounds. A record failing here is a data-contract error, never retried.
func (r *Result) Validate() error {
	if r == nil {
		return fmt.Errorf("nil analysis result")
	}
	if err := r.Scores.Validate(); err != nil {
		return err
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence out of range: %v", r.Confidence)
	}
	return nil
}

// Analyzer submits a captured image for remote analysis. hints carries
// optional free-form client context (skin type, prior concerns) forwarded to
// the scoring backend; nil is fine. Ordinary remote failures come back as
// *AnalysisError; plain errors are reserved for programmer-error conditions
// such as a missing session.
type Analyzer interface {
	Analyze(ctx context.Context, imageDataURI, sessionID, userID string, hints map[string]interface{}) (*Result, error)
}

// AnalysisError is a typed remote-analysis failure: the photo succeeded but
// scoring did not, which the caller reports distinctly from capture errors.
type AnalysisError struct {
	StatusCode int
	Message    string
}

func (e *AnalysisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("analysis failed: %s", e.Message)
}
