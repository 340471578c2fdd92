package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echochat/internal/models"
)

type FriendStore struct {
	pool *pgxpool.Pool
}

func NewFriendStore(pool *pgxpool.Pool) *FriendStore {
	return &FriendStore{pool: pool}
}

// FindEdge canonicalises the pair first, so one primary key lookup covers
// both orientations.
func (s *FriendStore) FindEdge(ctx context.Context, a, b uuid.UUID) (*models.Friend, error) {
	u1, u2 := models.CanonicalPair(a, b)
	query := `
		SELECT user1, user2, status, created_at
		FROM friends
		WHERE user1 = $1 AND user2 = $2 AND status = 'accepted'`

	var f models.Friend
	err := s.pool.QueryRow(ctx, query, u1, u2).Scan(&f.User1, &f.User2, &f.Status, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find friend edge: %w", err)
	}
	return &f, nil
}

func (s *FriendStore) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.User, error) {
	query := `
		SELECT u.id, u.username, u.email, u.password_hash, u.avatar_url, u.created_at
		FROM friends f
		JOIN users u ON u.id = CASE WHEN f.user1 = $1 THEN f.user2 ELSE f.user1 END
		WHERE (f.user1 = $1 OR f.user2 = $1) AND f.status = 'accepted'
		ORDER BY u.username`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	friends := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return friends, nil
}

type FriendRequestStore struct {
	pool *pgxpool.Pool
}

func NewFriendRequestStore(pool *pgxpool.Pool) *FriendRequestStore {
	return &FriendRequestStore{pool: pool}
}

const friendRequestColumns = `id, from_user, to_user, status, created_at, updated_at`

func scanFriendRequest(row pgx.Row) (*models.FriendRequest, error) {
	var fr models.FriendRequest
	err := row.Scan(&fr.ID, &fr.FromID, &fr.ToID, &fr.Status, &fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &fr, nil
}

func (s *FriendRequestStore) Create(ctx context.Context, fromID, toID uuid.UUID) (*models.FriendRequest, error) {
	query := `
		INSERT INTO friend_requests (from_user, to_user)
		VALUES ($1, $2)
		RETURNING ` + friendRequestColumns

	fr, err := scanFriendRequest(s.pool.QueryRow(ctx, query, fromID, toID))
	if err != nil {
		return nil, fmt.Errorf("insert friend request: %w", mapConflict(err))
	}
	return fr, nil
}

func (s *FriendRequestStore) GetByID(ctx context.Context, requestID uuid.UUID) (*models.FriendRequest, error) {
	query := `SELECT ` + friendRequestColumns + ` FROM friend_requests WHERE id = $1`

	fr, err := scanFriendRequest(s.pool.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get friend request: %w", err)
	}
	return fr, nil
}

// resolve is the conditional pending -> status transition shared by
// Resolve and Accept.
func resolve(ctx context.Context, q pgx.Tx, requestID uuid.UUID, status models.FriendRequestStatus) (*models.FriendRequest, error) {
	query := `
		UPDATE friend_requests
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + friendRequestColumns

	fr, err := scanFriendRequest(q.QueryRow(ctx, query, requestID, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return fr, err
}

func (s *FriendRequestStore) Resolve(ctx context.Context, requestID uuid.UUID, status models.FriendRequestStatus) (*models.FriendRequest, error) {
	var out *models.FriendRequest
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		fr, err := resolve(ctx, tx, requestID, status)
		out = fr
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve friend request: %w", err)
	}
	return out, nil
}

func (s *FriendRequestStore) Accept(ctx context.Context, requestID uuid.UUID) (*models.FriendRequest, error) {
	var out *models.FriendRequest
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		fr, err := resolve(ctx, tx, requestID, models.FriendRequestAccepted)
		if err != nil || fr == nil {
			return err
		}
		u1, u2 := models.CanonicalPair(fr.FromID, fr.ToID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO friends (user1, user2, status)
			VALUES ($1, $2, 'accepted')
			ON CONFLICT (user1, user2) DO NOTHING`, u1, u2); err != nil {
			return fmt.Errorf("insert friend edge: %w", err)
		}
		out = fr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accept friend request: %w", err)
	}
	return out, nil
}

// ListPending returns pending requests addressed to userID when incoming,
// or sent by userID otherwise.
func (s *FriendRequestStore) ListPending(ctx context.Context, userID uuid.UUID, incoming bool) ([]models.FriendRequest, error) {
	column := "from_user"
	if incoming {
		column = "to_user"
	}
	query := `SELECT ` + friendRequestColumns + `
		FROM friend_requests
		WHERE ` + column + ` = $1 AND status = 'pending'
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	defer rows.Close()

	out := make([]models.FriendRequest, 0)
	for rows.Next() {
		fr, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		out = append(out, *fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}
	return out, nil
}
