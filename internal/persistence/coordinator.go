package persistence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"skin-analysis-backend/internal/models"
)

// Coordinator commits an analysis result durably exactly once per real
// capture event. The backend offers no transactions, so correctness comes
// from layering: validate before any I/O, serialize saves per user, retry
// only transient failures, dedup within the recency window, invalidate
// caches, and verify the write landed.
type Coordinator struct {
	store RecordStore
	cache *UserCache

	// DedupWindow is the span within which two saves for one user are
	// presumed to describe the same real-world event.
	DedupWindow time.Duration

	// ScoreDeltaThreshold: a re-submission with no new image whose overall
	// score moved by at most this much is treated as the same event.
	ScoreDeltaThreshold int

	// MaxRetries bounds attempts per database operation; Backoff is the
	// delay ladder between them.
	MaxRetries int
	Backoff    []time.Duration

	locks sync.Map // operation+user key -> *sync.Mutex
}

// SaveResult reports what the commit did.
type SaveResult struct {
	Record *models.AnalysisRecord
	// Deduplicated is true when an existing record was updated in place
	// instead of a new one inserted.
	Deduplicated bool
}

func NewCoordinator(store RecordStore, cache *UserCache) *Coordinator {
	return &Coordinator{
		store:               store,
		cache:               cache,
		DedupWindow:         3 * time.Minute,
		ScoreDeltaThreshold: 5,
		MaxRetries:          3,
		Backoff:             []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// Save validates, serializes, dedups, commits and verifies one record.
// Concurrent saves for the same user queue behind one another; the lock never
// times out the request, it only orders it.
func (c *Coordinator) Save(ctx context.Context, rec *models.AnalysisRecord) (*SaveResult, error) {
	if err := c.validate(rec); err != nil {
		return nil, err
	}

	lock := c.userLock("save", rec.UserID)
	lock.Lock()
	defer lock.Unlock()

	var saved *models.AnalysisRecord
	var deduplicated bool
	err := c.retry(ctx, func() error {
		var err error
		saved, deduplicated, err = c.commit(rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save analysis record: %w", err)
	}

	c.cache.Invalidate(rec.UserID)

	// Post-write verification. The write itself reported success, so a miss
	// here is confirmation lag, not a failure to surface.
	if check, err := c.store.GetByID(saved.ID); err != nil || check == nil {
		log.Printf("persistence: verification read for record %s did not confirm the write: %v", saved.ID, err)
	}

	return &SaveResult{Record: saved, Deduplicated: deduplicated}, nil
}

// Latest returns the user's most recent record, consulting the cache first.
func (c *Coordinator) Latest(userID uuid.UUID) (*models.AnalysisRecord, error) {
	if rec, ok := c.cache.Latest(userID); ok {
		return rec, nil
	}
	rec, err := c.store.LatestForUser(userID, time.Time{})
	if err != nil {
		return nil, err
	}
	if rec != nil {
		c.cache.SetLatest(userID, rec)
	}
	return rec, nil
}

func (c *Coordinator) validate(rec *models.AnalysisRecord) error {
	if rec == nil {
		return &ValidationError{Reason: "no record supplied"}
	}
	if rec.UserID == uuid.Nil {
		return &ValidationError{Reason: "missing user id"}
	}
	if err := rec.Scores.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return &ValidationError{Reason: fmt.Sprintf("confidence out of range: %v", rec.Confidence)}
	}
	return nil
}

// commit runs the dedup check and then updates or inserts. Runs inside the
// per-user lock: without it two concurrent saves could both pass the
// no-recent-duplicate check and double-insert.
func (c *Coordinator) commit(rec *models.AnalysisRecord) (*models.AnalysisRecord, bool, error) {
	since := time.Now().Add(-c.DedupWindow)
	recent, err := c.store.LatestForUser(rec.UserID, since)
	if err != nil {
		return nil, false, err
	}

	if recent != nil && c.sameEvent(recent, rec) {
		merged := *rec
		merged.ID = recent.ID
		merged.CreatedAt = recent.CreatedAt
		if !merged.ImageURL.Valid {
			merged.ImageURL = recent.ImageURL
		}
		saved, err := c.store.Update(&merged)
		if err != nil {
			return nil, false, err
		}
		return saved, true, nil
	}

	fresh := *rec
	if fresh.ID == uuid.Nil {
		fresh.ID = uuid.New()
	}
	saved, err := c.store.Insert(&fresh)
	if err != nil {
		return nil, false, err
	}
	return saved, false, nil
}

// sameEvent is the recency-window heuristic: identical image, a matching
// capture session, or a near-equal overall score with no new image supplied.
// It approximates "no new user action occurred"; it is not a true
// idempotency key.
func (c *Coordinator) sameEvent(existing, incoming *models.AnalysisRecord) bool {
	if existing.SessionID.Valid && incoming.SessionID.Valid &&
		existing.SessionID.String == incoming.SessionID.String {
		return true
	}
	if existing.ImageURL.Valid && incoming.ImageURL.Valid &&
		existing.ImageURL.String == incoming.ImageURL.String {
		return true
	}
	if !incoming.ImageURL.Valid {
		delta := existing.Scores.Overall - incoming.Scores.Overall
		if delta < 0 {
			delta = -delta
		}
		return delta <= c.ScoreDeltaThreshold
	}
	return false
}

// retry runs fn with bounded exponential backoff, retrying only errors
// classified as transient.
func (c *Coordinator) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err

		if attempt == c.MaxRetries-1 {
			break
		}
		var delay time.Duration
		if len(c.Backoff) > 0 {
			delay = c.Backoff[len(c.Backoff)-1]
			if attempt < len(c.Backoff) {
				delay = c.Backoff[attempt]
			}
		}
		log.Printf("persistence: transient save error (attempt %d/%d), retrying in %s: %v",
			attempt+1, c.MaxRetries, delay, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("save canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.MaxRetries, lastErr)
}

func (c *Coordinator) userLock(operation string, userID uuid.UUID) *sync.Mutex {
	key := operation + ":" + userID.String()
	if lock, ok := c.locks.Load(key); ok {
		return lock.(*sync.Mutex)
	}
	lock, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
