package models

import "time"

type RecordResponse struct {
	ID              string     `json:"record_id"`
	SessionID       string     `json:"session_id,omitempty"`
	Scores          SkinScores `json:"scores"`
	Confidence      float64    `json:"confidence"`
	Recommendations []string   `json:"recommendations,omitempty"`
	ImageURL        string     `json:"image_url,omitempty"`
	Deduplicated    bool       `json:"deduplicated,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// NewRecordResponse converts a stored record into its API shape.
func NewRecordResponse(rec *AnalysisRecord, deduplicated bool) RecordResponse {
	resp := RecordResponse{
		ID:              rec.ID.String(),
		Scores:          rec.Scores,
		Confidence:      rec.Confidence,
		Recommendations: rec.Recommendations,
		Deduplicated:    deduplicated,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if rec.SessionID.Valid {
		resp.SessionID = rec.SessionID.String
	}
	if rec.ImageURL.Valid {
		resp.ImageURL = rec.ImageURL.String
	}
	return resp
}
