package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps presence visible across instances.
//
// Keys:
//
//	pres:user:{id} = "1" with a TTL, refreshed by Registry.Heartbeat
//	lastseen:{id}  = RFC3339 timestamp of the last disconnect
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(rdb *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: rdb, ttl: ttl}
}

func userKey(id uuid.UUID) string     { return "pres:user:" + id.String() }
func lastSeenKey(id uuid.UUID) string { return "lastseen:" + id.String() }

func (m *RedisMirror) Online(ctx context.Context, userID uuid.UUID) error {
	if err := m.rdb.Set(ctx, userKey(userID), "1", m.ttl).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Offline drops the presence key and records the time. Another instance
// may still hold a connection for the user; its next heartbeat restores
// the key.
func (m *RedisMirror) Offline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, userKey(userID))
		p.Set(ctx, lastSeenKey(userID), at.UTC().Format(time.RFC3339), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}
	return nil
}

// Status is what other instances can learn about a user.
type Status struct {
	UserID   uuid.UUID  `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

func (m *RedisMirror) Status(ctx context.Context, userID uuid.UUID) (Status, error) {
	st := Status{UserID: userID}

	n, err := m.rdb.Exists(ctx, userKey(userID)).Result()
	if err != nil {
		return st, fmt.Errorf("check presence: %w", err)
	}
	st.Online = n == 1

	raw, err := m.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get last seen: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		st.LastSeen = &t
	}
	return st, nil
}
