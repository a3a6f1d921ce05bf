package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Store is the persistence the directory reads through to.
type Store interface {
	interfaces.SessionFinder
	CreateSession(ctx context.Context, record *types.SessionRecord) error
	ListSessions(ctx context.Context, includeEnded bool) ([]*types.SessionRecord, error)
	EndSession(ctx context.Context, id string, at time.Time) error
}

// Directory caches open session records by both of their identifiers.
// FUNCTIONAL DISCOVERY: every quiz trigger resolves its reference, so open
// sessions are answered from memory and only misses reach the database
type Directory struct {
	store      Store
	byID       map[string]*types.SessionRecord
	byExternal map[string]*types.SessionRecord
	mu         sync.RWMutex
	now        func() time.Time
	logger     *zap.Logger
}

// NewDirectory creates an empty directory over store.
func NewDirectory(store Store, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:      store,
		byID:       make(map[string]*types.SessionRecord),
		byExternal: make(map[string]*types.SessionRecord),
		now:        time.Now,
		logger:     logger,
	}
}

// LoadActiveSessions replaces the cache with the open sessions in the store.
func (d *Directory) LoadActiveSessions(ctx context.Context) error {
	records, err := d.store.ListSessions(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	d.mu.Lock()
	d.byID = make(map[string]*types.SessionRecord, len(records))
	d.byExternal = make(map[string]*types.SessionRecord, len(records))
	for _, rec := range records {
		d.cacheLocked(rec)
	}
	d.mu.Unlock()

	d.logger.Info("loaded active sessions", zap.Int("count", len(records)))
	return nil
}

func (d *Directory) cacheLocked(rec *types.SessionRecord) {
	d.byID[rec.ID] = rec
	if rec.ExternalID != "" {
		d.byExternal[rec.ExternalID] = rec
	}
}

// CreateRequest describes a new session.
type CreateRequest struct {
	Title        string `json:"title"`
	InstructorID string `json:"instructorId"`
	ExternalID   string `json:"externalId"`
}

// CreateSession validates, persists and caches a new session.
func (d *Directory) CreateSession(ctx context.Context, req CreateRequest) (*types.SessionRecord, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > 200 {
		return nil, ErrInvalidTitle
	}
	if !types.IsValidIdentifier(req.InstructorID) {
		return nil, ErrInvalidInstructorID
	}
	if req.ExternalID != "" && !types.IsValidIdentifier(req.ExternalID) {
		return nil, ErrInvalidExternalID
	}

	rec := &types.SessionRecord{
		Title:        title,
		InstructorID: req.InstructorID,
		ExternalID:   req.ExternalID,
		CreatedAt:    d.now().UTC(),
	}
	if err := d.store.CreateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	d.mu.Lock()
	d.cacheLocked(rec)
	d.mu.Unlock()

	d.logger.Info("session created",
		zap.String("session_id", rec.ID),
		zap.String("external_id", rec.ExternalID),
		zap.String("title", rec.Title))
	return rec, nil
}

// FindSessionByExternalID checks the cache, then the store.
func (d *Directory) FindSessionByExternalID(ctx context.Context, externalID string) (*types.SessionRecord, error) {
	d.mu.RLock()
	rec, exists := d.byExternal[externalID]
	d.mu.RUnlock()
	if exists {
		return rec, nil
	}
	return d.store.FindSessionByExternalID(ctx, externalID)
}

// FindSessionByInternalID checks the cache, then the store.
func (d *Directory) FindSessionByInternalID(ctx context.Context, id string) (*types.SessionRecord, error) {
	d.mu.RLock()
	rec, exists := d.byID[id]
	d.mu.RUnlock()
	if exists {
		return rec, nil
	}
	return d.store.FindSessionByInternalID(ctx, id)
}

// GetSession finds a session by either identifier, internal first.
func (d *Directory) GetSession(ctx context.Context, ref string) (*types.SessionRecord, error) {
	rec, err := d.FindSessionByInternalID(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil, err
	}
	return d.FindSessionByExternalID(ctx, ref)
}

// EndSession stamps the end time and drops the session from the cache.
func (d *Directory) EndSession(ctx context.Context, id string) (*types.SessionRecord, error) {
	rec, err := d.FindSessionByInternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.EndedAt != nil {
		return nil, ErrSessionAlreadyEnded
	}

	now := d.now().UTC()
	if err := d.store.EndSession(ctx, rec.ID, now); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			d.evict(rec)
			return nil, ErrSessionAlreadyEnded
		}
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	d.evict(rec)
	ended := *rec
	ended.EndedAt = &now
	d.logger.Info("session ended", zap.String("session_id", rec.ID))
	return &ended, nil
}

func (d *Directory) evict(rec *types.SessionRecord) {
	d.mu.Lock()
	delete(d.byID, rec.ID)
	if rec.ExternalID != "" {
		delete(d.byExternal, rec.ExternalID)
	}
	d.mu.Unlock()
}

// ListActiveSessions returns cached open sessions, newest first.
func (d *Directory) ListActiveSessions() []*types.SessionRecord {
	d.mu.RLock()
	out := make([]*types.SessionRecord, 0, len(d.byID))
	for _, rec := range d.byID {
		out = append(out, rec)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// IsSessionActive is a cache-only check.
func (d *Directory) IsSessionActive(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.byID[id]
	return exists
}

// CachedCount returns the number of cached open sessions.
func (d *Directory) CachedCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
