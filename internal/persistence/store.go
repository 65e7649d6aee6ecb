package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"skin-analysis-backend/internal/models"
)

// RecordStore is the row-oriented persistence backend. It offers plain
// insert/update/select operations and no multi-statement transactions, which
// is why the Coordinator layers locking and post-write verification on top.
type RecordStore interface {
	Insert(rec *models.AnalysisRecord) (*models.AnalysisRecord, error)
	Update(rec *models.AnalysisRecord) (*models.AnalysisRecord, error)
	GetByID(recordID uuid.UUID) (*models.AnalysisRecord, error)
	LatestForUser(userID uuid.UUID, since time.Time) (*models.AnalysisRecord, error)
	ListForUser(userID uuid.UUID, limit int) ([]models.AnalysisRecord, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

const recordColumns = `id, user_id, session_id, overall, hydration, oiliness, texture, pigmentation,
		confidence, recommendations, image_url, raw_analysis, created_at, updated_at`

func scanRecord(row *sql.Row) (*models.AnalysisRecord, error) {
	var rec models.AnalysisRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.SessionID,
		&rec.Scores.Overall, &rec.Scores.Hydration, &rec.Scores.Oiliness,
		&rec.Scores.Texture, &rec.Scores.Pigmentation,
		&rec.Confidence, pq.Array(&rec.Recommendations),
		&rec.ImageURL, &rec.RawAnalysis, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Insert(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
	row := s.db.QueryRow(`
		INSERT INTO analysis_records (id, user_id, session_id, overall, hydration, oiliness, texture, pigmentation,
			confidence, recommendations, image_url, raw_analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+recordColumns+`
	`, rec.ID, rec.UserID, rec.SessionID,
		rec.Scores.Overall, rec.Scores.Hydration, rec.Scores.Oiliness,
		rec.Scores.Texture, rec.Scores.Pigmentation,
		rec.Confidence, pq.Array(rec.Recommendations), rec.ImageURL, rec.RawAnalysis)

	saved, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert analysis record: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) Update(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
	row := s.db.QueryRow(`
		UPDATE analysis_records
		SET session_id = $2, overall = $3, hydration = $4, oiliness = $5, texture = $6, pigmentation = $7,
			confidence = $8, recommendations = $9, image_url = $10, raw_analysis = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns+`
	`, rec.ID, rec.SessionID,
		rec.Scores.Overall, rec.Scores.Hydration, rec.Scores.Oiliness,
		rec.Scores.Texture, rec.Scores.Pigmentation,
		rec.Confidence, pq.Array(rec.Recommendations), rec.ImageURL, rec.RawAnalysis)

	saved, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update analysis record: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetByID(recordID uuid.UUID) (*models.AnalysisRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM analysis_records
		WHERE id = $1
	`, recordID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis record: %w", err)
	}
	return rec, nil
}

// LatestForUser returns the user's most recent record created at or after
// since, or nil when none exists. This is the dedup-window query.
func (s *PostgresStore) LatestForUser(userID uuid.UUID, since time.Time) (*models.AnalysisRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM analysis_records
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, since)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest analysis record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListForUser(userID uuid.UUID, limit int) ([]models.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+recordColumns+`
		FROM analysis_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis records: %w", err)
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		var rec models.AnalysisRecord
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.SessionID,
			&rec.Scores.Overall, &rec.Scores.Hydration, &rec.Scores.Oiliness,
			&rec.Scores.Texture, &rec.Scores.Pigmentation,
			&rec.Confidence, pq.Array(&rec.Recommendations),
			&rec.ImageURL, &rec.RawAnalysis, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis record: %w", err)
		}
		records = append(records, rec)
	}

	return records, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
