package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SkinScores are the normalized analysis scores, each 0-100.
type SkinScores struct {
	Overall      int `json:"overall"`
	Hydration    int `json:"hydration"`
	Oiliness     int `json:"oiliness"`
	Texture      int `json:"texture"`
	Pigmentation int `json:"pigmentation"`
}

// Validate checks every score is within range.
func (s SkinScores) Validate() error {
	check := func(name string, v int) error {
		if v < 0 || v > 100 {
			return fmt.Errorf("score %s out of range: %d", name, v)
		}
		return nil
	}
	if err := check("overall", s.Overall); err != nil {
		return err
	}
	if err := check("hydration", s.Hydration); err != nil {
		return err
	}
	if err := check("oiliness", s.Oiliness); err != nil {
		return err
	}
	if err := check("texture", s.Texture); err != nil {
		return err
	}
	return check("pigmentation", s.Pigmentation)
}

// AnalysisRecord is the durable entity: one stored skin analysis per real
// capture event. Uniqueness is enforced logically by the persistence
// coordinator's recency-window dedup, not by a hard key.
type AnalysisRecord struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	SessionID       sql.NullString
	Scores          SkinScores
	Confidence      float64
	Recommendations []string
	ImageURL        sql.NullString
	RawAnalysis     json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
