// Package presence tracks which users have at least one live realtime
// connection in this process.
package presence

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mirror publishes online/offline transitions somewhere other processes
// can see them. Errors are logged, never surfaced to the connection.
type Mirror interface {
	Online(ctx context.Context, userID uuid.UUID) error
	Offline(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Registry maps connection ids to user ids. A user is online while any of
// their connections is registered, so closing one tab never hides a user
// whose other tab is still open.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]uuid.UUID // connection id -> user id
	counts map[uuid.UUID]int       // user id -> live connections

	mirror Mirror
	logger *zap.Logger
}

func NewRegistry(mirror Mirror, logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]uuid.UUID),
		counts: make(map[uuid.UUID]int),
		mirror: mirror,
		logger: logger,
	}
}

// Add registers connID for userID and reports whether the user just came
// online. Adding the same connID twice is a no-op.
func (r *Registry) Add(ctx context.Context, userID, connID uuid.UUID) bool {
	return r.Connect(ctx, userID, connID, nil)
}

// Connect is Add that also hands the resulting online set to publish while
// the registry is still locked. Concurrent connects and disconnects thus
// publish their snapshots in the order the changes happened, and the last
// one published is always the current set. publish must not call back
// into the registry.
func (r *Registry) Connect(ctx context.Context, userID, connID uuid.UUID, publish func(online []uuid.UUID)) bool {
	r.mu.Lock()
	if _, exists := r.conns[connID]; exists {
		r.mu.Unlock()
		return false
	}
	r.conns[connID] = userID
	r.counts[userID]++
	cameOnline := r.counts[userID] == 1
	if publish != nil {
		publish(r.snapshotLocked())
	}
	r.mu.Unlock()

	if cameOnline && r.mirror != nil {
		if err := r.mirror.Online(ctx, userID); err != nil {
			r.logger.Warn("presence mirror online failed", zap.Stringer("user_id", userID), zap.Error(err))
		}
	}
	return cameOnline
}

// Remove unregisters connID. It returns the user the connection belonged
// to and whether that user is now offline. Unknown ids return ok=false.
func (r *Registry) Remove(ctx context.Context, connID uuid.UUID) (userID uuid.UUID, wentOffline, ok bool) {
	return r.Disconnect(ctx, connID, nil)
}

// Disconnect is Remove that publishes the online set, under the lock like
// Connect, when the user went offline.
func (r *Registry) Disconnect(ctx context.Context, connID uuid.UUID, publish func(online []uuid.UUID)) (userID uuid.UUID, wentOffline, ok bool) {
	r.mu.Lock()
	userID, ok = r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return uuid.Nil, false, false
	}
	delete(r.conns, connID)
	r.counts[userID]--
	if r.counts[userID] <= 0 {
		delete(r.counts, userID)
		wentOffline = true
	}
	if wentOffline && publish != nil {
		publish(r.snapshotLocked())
	}
	r.mu.Unlock()

	if wentOffline && r.mirror != nil {
		if err := r.mirror.Offline(ctx, userID, time.Now()); err != nil {
			r.logger.Warn("presence mirror offline failed", zap.Stringer("user_id", userID), zap.Error(err))
		}
	}
	return userID, wentOffline, true
}

// Snapshot returns the online user ids in a stable order.
func (r *Registry) Snapshot() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.counts))
	for id := range r.counts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[userID] > 0
}

// Connections returns how many live connections userID has.
func (r *Registry) Connections(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[userID]
}

// Heartbeat refreshes the mirror for every online user until ctx is done.
// Mirrors with TTL keys rely on this to keep live users visible.
func (r *Registry) Heartbeat(ctx context.Context, every time.Duration) {
	if r.mirror == nil || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.Snapshot() {
				if err := r.mirror.Online(ctx, id); err != nil {
					r.logger.Warn("presence heartbeat failed", zap.Stringer("user_id", id), zap.Error(err))
				}
			}
		}
	}
}
