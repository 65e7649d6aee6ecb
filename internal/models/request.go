package models

type AnalyzeRequest struct {
	// Image is the captured photo as a self-describing data URI.
	Image string `json:"image"`
	// SessionID identifies the capture session that produced the image.
	SessionID string `json:"session_id"`
	// Context carries optional free-form hints forwarded to the analyzer.
	Context map[string]interface{} `json:"context,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// Retryable tells the client a retry affordance makes sense (transient
	// save failures), as opposed to validation or permission errors.
	Retryable bool `json:"retryable,omitempty"`
}
