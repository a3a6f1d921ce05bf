package rooms

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Participant is one student's presence in one room.
// Values returned by the registry are snapshots; Transport is shared.
type Participant struct {
	StudentID   string                  `json:"studentId"`
	DisplayName string                  `json:"displayName,omitempty"`
	Email       string                  `json:"email,omitempty"`
	Status      types.ParticipantStatus `json:"status"`
	JoinedAt    time.Time               `json:"joinedAt"`
	LeftAt      *time.Time              `json:"leftAt,omitempty"`
	Transport   interfaces.Transport    `json:"-"`
}

// room owns its participants. dead is set once the room has been removed
// from the registry map so late joiners retry on a fresh room.
type room struct {
	key          string
	mu           sync.Mutex
	participants map[string]*Participant
	dead         bool
}

// Registry tracks session rooms and the global room.
// ARCHITECTURAL DISCOVERY: the registry lock only guards the room map; all
// participant work happens under the room's own lock so a slow operation on
// one room never stalls joins to another
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	globalMu sync.RWMutex
	global   map[interfaces.Transport]struct{}

	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:  make(map[string]*room),
		global: make(map[interfaces.Transport]struct{}),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) getRoom(key string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key]
}

func (r *Registry) getOrCreateRoom(key string) *room {
	if rm := r.getRoom(key); rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, exists := r.rooms[key]; exists {
		return rm
	}
	rm := &room{key: key, participants: make(map[string]*Participant)}
	r.rooms[key] = rm
	return rm
}

// JoinOptions carries optional reporting fields.
type JoinOptions struct {
	DisplayName string
	Email       string
}

// JoinResult reports the room's Joined count after the join.
type JoinResult struct {
	ParticipantCount int  `json:"participantCount"`
	Rejoined         bool `json:"rejoined"`
}

// Join registers transport for (roomKey, studentID). A repeated join is the
// reconnect path: the existing entry keeps its identity, takes the new
// transport and goes back to Joined. The replaced transport is closed.
func (r *Registry) Join(roomKey, studentID string, transport interfaces.Transport, opts JoinOptions) (JoinResult, error) {
	if err := types.ValidateRoomKey(roomKey); err != nil {
		return JoinResult{}, err
	}
	if err := types.ValidateStudentID(studentID); err != nil {
		return JoinResult{}, err
	}
	if transport == nil {
		return JoinResult{}, ErrNilTransport
	}

	for {
		rm := r.getOrCreateRoom(roomKey)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}

		var replaced interfaces.Transport
		now := r.now()
		p, rejoined := rm.participants[studentID]
		if rejoined {
			if p.Transport != transport {
				replaced = p.Transport
			}
			p.Transport = transport
			p.Status = types.StatusJoined
			p.LeftAt = nil
			p.JoinedAt = now
			if opts.DisplayName != "" {
				p.DisplayName = opts.DisplayName
			}
			if opts.Email != "" {
				p.Email = opts.Email
			}
		} else {
			rm.participants[studentID] = &Participant{
				StudentID:   studentID,
				DisplayName: opts.DisplayName,
				Email:       opts.Email,
				Status:      types.StatusJoined,
				JoinedAt:    now,
				Transport:   transport,
			}
		}
		count := rm.joinedCountLocked()
		rm.mu.Unlock()

		if replaced != nil {
			if err := replaced.Close(); err != nil {
				r.logger.Debug("closing replaced transport", zap.String("room_key", roomKey),
					zap.String("student_id", studentID), zap.Error(err))
			}
		}

		r.logger.Info("participant joined",
			zap.String("room_key", roomKey),
			zap.String("student_id", studentID),
			zap.Bool("rejoined", rejoined),
			zap.Int("participant_count", count))
		return JoinResult{ParticipantCount: count, Rejoined: rejoined}, nil
	}
}

func (rm *room) joinedCountLocked() int {
	n := 0
	for _, p := range rm.participants {
		if p.Status == types.StatusJoined {
			n++
		}
	}
	return n
}

// Leave marks the participant Left. The transport is not closed; transport
// closure is detected by whoever owns the read loop. Returns false if the
// student was never in the room.
func (r *Registry) Leave(roomKey, studentID string) bool {
	rm := r.getRoom(roomKey)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, exists := rm.participants[studentID]
	if !exists {
		return false
	}
	if p.Status == types.StatusJoined {
		now := r.now()
		p.Status = types.StatusLeft
		p.LeftAt = &now
		r.logger.Info("participant left", zap.String("room_key", roomKey), zap.String("student_id", studentID))
	}
	return true
}

// Prune is the implicit-disconnect transition: it marks the participant Left
// and closes transport, but only if the entry still holds that exact
// transport. A newer re-join is never pruned by a stale failure.
// RACE CONDITION FIX: compare transport identity under the room lock
func (r *Registry) Prune(roomKey, studentID string, transport interfaces.Transport) bool {
	rm := r.getRoom(roomKey)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	p, exists := rm.participants[studentID]
	if !exists || p.Transport == nil || p.Transport != transport {
		rm.mu.Unlock()
		return false
	}
	if p.Status == types.StatusJoined {
		now := r.now()
		p.Status = types.StatusLeft
		p.LeftAt = &now
	}
	p.Transport = nil
	rm.mu.Unlock()

	if err := transport.Close(); err != nil {
		r.logger.Debug("closing pruned transport", zap.Error(err))
	}
	r.logger.Info("participant disconnected",
		zap.String("room_key", roomKey), zap.String("student_id", studentID))
	return true
}

// Release detaches transport from the participant after its connection has
// closed, so Stats and Close never touch a dead socket. It does not change
// status; callers Leave first.
func (r *Registry) Release(roomKey, studentID string, transport interfaces.Transport) {
	rm := r.getRoom(roomKey)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if p, exists := rm.participants[studentID]; exists && p.Transport == transport {
		p.Transport = nil
	}
}

// Participant returns a snapshot of one entry.
func (r *Registry) Participant(roomKey, studentID string) (Participant, bool) {
	rm := r.getRoom(roomKey)
	if rm == nil {
		return Participant{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, exists := rm.participants[studentID]
	if !exists {
		return Participant{}, false
	}
	return p.snapshot(), true
}

func (p *Participant) snapshot() Participant {
	cp := *p
	if p.LeftAt != nil {
		t := *p.LeftAt
		cp.LeftAt = &t
	}
	return cp
}

// ListJoined returns the Joined participants of roomKey ordered by student ID.
func (r *Registry) ListJoined(roomKey string) []Participant {
	rm := r.getRoom(roomKey)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	out := make([]Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		if p.Status == types.StatusJoined {
			out = append(out, p.snapshot())
		}
	}
	rm.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// RoomView distinguishes a missing room from an empty one.
type RoomView struct {
	Key          string        `json:"key"`
	Exists       bool          `json:"exists"`
	JoinedCount  int           `json:"joinedCount"`
	LeftCount    int           `json:"leftCount"`
	Participants []Participant `json:"participants,omitempty"`
}

// Lookup returns every entry of roomKey, Joined and Left, ordered by student ID.
func (r *Registry) Lookup(roomKey string) RoomView {
	view := RoomView{Key: roomKey}
	rm := r.getRoom(roomKey)
	if rm == nil {
		return view
	}
	rm.mu.Lock()
	if !rm.dead {
		view.Exists = true
		for _, p := range rm.participants {
			if p.Status == types.StatusJoined {
				view.JoinedCount++
			} else {
				view.LeftCount++
			}
			view.Participants = append(view.Participants, p.snapshot())
		}
	}
	rm.mu.Unlock()

	sort.Slice(view.Participants, func(i, j int) bool {
		return view.Participants[i].StudentID < view.Participants[j].StudentID
	})
	return view
}

// ResolveByAliases snapshots each candidate room and reconciles them.
func (r *Registry) ResolveByAliases(candidates []string) Resolution {
	joined := make(map[string][]Participant, len(candidates))
	for _, key := range candidates {
		if _, seen := joined[key]; seen {
			continue
		}
		joined[key] = r.ListJoined(key)
	}
	return Reconcile(candidates, joined)
}

// EvictLeft removes Left entries that left before cutoff and drops rooms that
// end up empty. Returns the number of entries removed.
func (r *Registry) EvictLeft(cutoff time.Time) int {
	r.mu.RLock()
	all := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		all = append(all, rm)
	}
	r.mu.RUnlock()

	evicted := 0
	var empty []*room
	var toClose []interfaces.Transport
	for _, rm := range all {
		rm.mu.Lock()
		for id, p := range rm.participants {
			if p.Status == types.StatusLeft && p.LeftAt != nil && p.LeftAt.Before(cutoff) {
				delete(rm.participants, id)
				evicted++
				if p.Transport != nil {
					toClose = append(toClose, p.Transport)
				}
			}
		}
		if len(rm.participants) == 0 {
			empty = append(empty, rm)
		}
		rm.mu.Unlock()
	}

	if len(empty) > 0 {
		r.mu.Lock()
		for _, rm := range empty {
			rm.mu.Lock()
			// a join may have landed between the two locks
			if len(rm.participants) == 0 && r.rooms[rm.key] == rm {
				rm.dead = true
				delete(r.rooms, rm.key)
			}
			rm.mu.Unlock()
		}
		r.mu.Unlock()
	}

	// closing may flush queued frames, so it happens outside the room locks
	for _, t := range toClose {
		_ = t.Close()
	}

	if evicted > 0 {
		r.logger.Info("evicted left participants", zap.Int("count", evicted))
	}
	return evicted
}

// JoinGlobal adds transport to the global room and returns its size.
func (r *Registry) JoinGlobal(transport interfaces.Transport) (int, error) {
	if transport == nil {
		return 0, ErrNilTransport
	}
	r.globalMu.Lock()
	defer r.globalMu.Unlock()
	r.global[transport] = struct{}{}
	return len(r.global), nil
}

// LeaveGlobal removes transport from the global room. Returns false if absent.
func (r *Registry) LeaveGlobal(transport interfaces.Transport) bool {
	r.globalMu.Lock()
	defer r.globalMu.Unlock()
	if _, exists := r.global[transport]; !exists {
		return false
	}
	delete(r.global, transport)
	return true
}

// PruneGlobal removes and closes a transport whose write failed.
func (r *Registry) PruneGlobal(transport interfaces.Transport) bool {
	if !r.LeaveGlobal(transport) {
		return false
	}
	if err := transport.Close(); err != nil {
		r.logger.Debug("closing pruned global transport", zap.Error(err))
	}
	return true
}

// GlobalTransports returns a snapshot of the global room.
func (r *Registry) GlobalTransports() []interfaces.Transport {
	r.globalMu.RLock()
	defer r.globalMu.RUnlock()
	out := make([]interfaces.Transport, 0, len(r.global))
	for t := range r.global {
		out = append(out, t)
	}
	return out
}

// RoomStats is one row of Stats.
type RoomStats struct {
	Key         string `json:"key"`
	JoinedCount int    `json:"joinedCount"`
	LeftCount   int    `json:"leftCount"`
}

// Stats is a read-only diagnostics snapshot.
type Stats struct {
	GlobalCount int         `json:"globalConnections"`
	Rooms       []RoomStats `json:"rooms"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Stats returns counts for the global room and every session room.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	all := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		all = append(all, rm)
	}
	r.mu.RUnlock()

	stats := Stats{Rooms: make([]RoomStats, 0, len(all)), Timestamp: r.now()}
	for _, rm := range all {
		rm.mu.Lock()
		row := RoomStats{Key: rm.key}
		for _, p := range rm.participants {
			if p.Status == types.StatusJoined {
				row.JoinedCount++
			} else {
				row.LeftCount++
			}
		}
		dead := rm.dead
		rm.mu.Unlock()
		if !dead {
			stats.Rooms = append(stats.Rooms, row)
		}
	}
	sort.Slice(stats.Rooms, func(i, j int) bool { return stats.Rooms[i].Key < stats.Rooms[j].Key })

	r.globalMu.RLock()
	stats.GlobalCount = len(r.global)
	r.globalMu.RUnlock()
	return stats
}

// Close closes every transport the registry still holds. Entries are kept so
// post-shutdown diagnostics still see who was connected.
func (r *Registry) Close() {
	r.mu.RLock()
	all := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		all = append(all, rm)
	}
	r.mu.RUnlock()

	var toClose []interfaces.Transport
	for _, rm := range all {
		rm.mu.Lock()
		for _, p := range rm.participants {
			if p.Transport != nil {
				toClose = append(toClose, p.Transport)
				p.Transport = nil
			}
			if p.Status == types.StatusJoined {
				now := r.now()
				p.Status = types.StatusLeft
				p.LeftAt = &now
			}
		}
		rm.mu.Unlock()
	}

	r.globalMu.Lock()
	for t := range r.global {
		toClose = append(toClose, t)
	}
	r.global = make(map[interfaces.Transport]struct{})
	r.globalMu.Unlock()

	for _, t := range toClose {
		_ = t.Close()
	}
	r.logger.Info("registry closed", zap.Int("transports", len(toClose)))
}
