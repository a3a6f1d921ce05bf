package resolver

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"classpulse/internal/rooms"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Resolution is the room choice for one trigger cycle.
type Resolution struct {
	rooms.Resolution
	Reference   string               `json:"reference"`
	Record      *types.SessionRecord `json:"record,omitempty"`
	RecordFound bool                 `json:"recordFound"`
}

// Resolver maps a caller's session reference onto the room that actually
// holds the session's students.
// FUNCTIONAL DISCOVERY: students of an externally hosted meeting may join
// under the meeting ID while the instructor triggers with the internal ID,
// or the reverse, so both rooms are always considered
type Resolver struct {
	finder   interfaces.SessionFinder
	registry *rooms.Registry
	logger   *zap.Logger
}

// New creates a resolver. finder may be nil, in which case only the literal
// reference is considered.
func New(finder interfaces.SessionFinder, registry *rooms.Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{finder: finder, registry: registry, logger: logger}
}

// Resolve computes the candidate aliases of reference and reconciles them.
// Lookup failures degrade to the literal reference alone.
func (r *Resolver) Resolve(ctx context.Context, reference string) (Resolution, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return Resolution{}, types.ErrMalformedReference
	}

	res := Resolution{Reference: ref}
	candidates := []string{ref}

	record, err := r.lookup(ctx, ref)
	switch {
	case err == nil && record != nil:
		res.Record = record
		res.RecordFound = true
		candidates = append(candidates, record.Aliases()...)
	case err != nil && !errors.Is(err, interfaces.ErrSessionNotFound):
		r.logger.Warn("session lookup failed, resolving by reference only",
			zap.String("reference", ref), zap.Error(err))
	}

	res.Resolution = r.registry.ResolveByAliases(candidates)
	r.logger.Debug("session resolved",
		zap.String("reference", ref),
		zap.String("effective_key", res.EffectiveKey),
		zap.Strings("candidates", res.Candidates),
		zap.Int("participants", len(res.Participants)))
	return res, nil
}

// lookup tries the external ID, then the internal ID. A failed external
// lookup does not stop the internal one; its error is reported only when
// neither finds the record.
func (r *Resolver) lookup(ctx context.Context, ref string) (*types.SessionRecord, error) {
	if r.finder == nil {
		return nil, interfaces.ErrSessionNotFound
	}
	record, extErr := r.finder.FindSessionByExternalID(ctx, ref)
	if extErr == nil && record != nil {
		return record, nil
	}
	if extErr != nil && !errors.Is(extErr, interfaces.ErrSessionNotFound) {
		r.logger.Warn("external session lookup failed, trying internal ID",
			zap.String("reference", ref), zap.Error(extErr))
	} else {
		extErr = nil
	}

	record, err := r.finder.FindSessionByInternalID(ctx, ref)
	if err == nil && record != nil {
		return record, nil
	}
	if extErr != nil {
		return nil, extErr
	}
	if err != nil {
		return nil, err
	}
	return nil, interfaces.ErrSessionNotFound
}
