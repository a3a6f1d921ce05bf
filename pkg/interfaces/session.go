package interfaces

import (
	"context"

	"classpulse/pkg/types"
)

// SessionFinder looks up persisted session records by either alias.
// Both methods return ErrSessionNotFound when no record matches.
type SessionFinder interface {
	FindSessionByExternalID(ctx context.Context, externalID string) (*types.SessionRecord, error)
	FindSessionByInternalID(ctx context.Context, id string) (*types.SessionRecord, error)
}
