package persistence

import (
	"sync"

	"github.com/google/uuid"

	"skin-analysis-backend/internal/models"
)

// UserCache holds per-user derived views that must be dropped whenever a save
// lands: the latest-record view and the AI-context snapshot built from it.
type UserCache struct {
	mu        sync.RWMutex
	latest    map[uuid.UUID]*models.AnalysisRecord
	aiContext map[uuid.UUID]string
}

func NewUserCache() *UserCache {
	return &UserCache{
		latest:    make(map[uuid.UUID]*models.AnalysisRecord),
		aiContext: make(map[uuid.UUID]string),
	}
}

func (c *UserCache) Latest(userID uuid.UUID) (*models.AnalysisRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.latest[userID]
	return rec, ok
}

func (c *UserCache) SetLatest(userID uuid.UUID, rec *models.AnalysisRecord) {
	c.mu.Lock()
	c.latest[userID] = rec
	c.mu.Unlock()
}

func (c *UserCache) AIContext(userID uuid.UUID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx, ok := c.aiContext[userID]
	return ctx, ok
}

func (c *UserCache) SetAIContext(userID uuid.UUID, context string) {
	c.mu.Lock()
	c.aiContext[userID] = context
	c.mu.Unlock()
}

// Invalidate drops every cached view for the user so subsequent reads are
// not stale.
func (c *UserCache) Invalidate(userID uuid.UUID) {
	c.mu.Lock()
	delete(c.latest, userID)
	delete(c.aiContext, userID)
	c.mu.Unlock()
}
