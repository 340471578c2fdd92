package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echochat/internal/models"
	"github.com/lalith-99/echochat/internal/repository"
)

type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

// Members come back as an array so list queries need one round trip.
const roomSelect = `
	SELECT r.id, r.name, r.description, r.created_by, r.is_public, r.is_private, r.created_at,
	       COALESCE((SELECT array_agg(m.user_id ORDER BY m.joined_at, m.user_id)
	                 FROM room_members m WHERE m.room_id = r.id), '{}') AS members
	FROM rooms r`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedBy, &r.IsPublic, &r.IsPrivate, &r.CreatedAt, &r.Members)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRooms(rows pgx.Rows) ([]models.Room, error) {
	defer rows.Close()
	rooms := make([]models.Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// Create inserts the room row and its members in one transaction.
func (s *RoomStore) Create(ctx context.Context, room *models.Room) (*models.Room, error) {
	var id uuid.UUID
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO rooms (name, description, created_by, is_public, is_private)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			room.Name, room.Description, room.CreatedBy, room.IsPublic, room.IsPrivate,
		).Scan(&id); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_members (room_id, user_id, joined_at)
			SELECT $1, u.id, now() + (u.ord * interval '1 microsecond')
			FROM unnest($2::uuid[]) WITH ORDINALITY AS u(id, ord)
			ON CONFLICT DO NOTHING`, id, room.Members); err != nil {
			return fmt.Errorf("insert room members: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *RoomStore) GetByID(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, roomSelect+` WHERE r.id = $1`, roomID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, status, created_at
		FROM room_join_requests
		WHERE room_id = $1
		ORDER BY created_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var jr models.JoinRequest
		if err := rows.Scan(&jr.ID, &jr.RoomID, &jr.UserID, &jr.Status, &jr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan join request: %w", err)
		}
		r.JoinRequests = append(r.JoinRequests, jr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate join requests: %w", err)
	}
	return r, nil
}

func (s *RoomStore) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM room_members
			WHERE room_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// lockRoom takes a row lock on the room so membership changes on the same
// room serialise. Returns false when the room does not exist.
func lockRoom(ctx context.Context, tx pgx.Tx, roomID uuid.UUID) (createdBy uuid.UUID, isPrivate bool, found bool, err error) {
	err = tx.QueryRow(ctx, `SELECT created_by, is_private FROM rooms WHERE id = $1 FOR UPDATE`, roomID).
		Scan(&createdBy, &isPrivate)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, false, nil
	}
	if err != nil {
		return uuid.Nil, false, false, fmt.Errorf("lock room: %w", err)
	}
	return createdBy, isPrivate, true, nil
}

// addMemberLocked inserts userID under an already held room lock.
func addMemberLocked(ctx context.Context, tx pgx.Tx, roomID, userID uuid.UUID, maxMembers int) (bool, error) {
	var isMember bool
	var count int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(bool_or(user_id = $2), false), count(*)
		FROM room_members WHERE room_id = $1`, roomID, userID).Scan(&isMember, &count); err != nil {
		return false, fmt.Errorf("count members: %w", err)
	}
	if isMember {
		return false, nil
	}
	if count >= maxMembers {
		return false, repository.ErrRoomFull
	}
	if _, err := tx.Exec(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, roomID, userID); err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	return true, nil
}

func (s *RoomStore) AddMember(ctx context.Context, roomID, userID uuid.UUID, maxMembers int) (bool, error) {
	var added bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, _, found, err := lockRoom(ctx, tx, roomID)
		if err != nil || !found {
			return err
		}
		added, err = addMemberLocked(ctx, tx, roomID, userID, maxMembers)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	return added, nil
}

// RemoveMember keeps the members-never-empty invariant: the room row goes
// away in the same transaction as its last member.
func (s *RoomStore) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) (repository.LeaveResult, error) {
	var res repository.LeaveResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		createdBy, isPrivate, found, err := lockRoom(ctx, tx, roomID)
		if err != nil || !found {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		res.Left = true

		var next uuid.UUID
		err = tx.QueryRow(ctx, `
			SELECT user_id FROM room_members
			WHERE room_id = $1
			ORDER BY joined_at, user_id
			LIMIT 1`, roomID).Scan(&next)
		empty := errors.Is(err, pgx.ErrNoRows)
		if err != nil && !empty {
			return fmt.Errorf("next member: %w", err)
		}

		if isPrivate || empty {
			if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID); err != nil {
				return fmt.Errorf("delete room: %w", err)
			}
			res.RoomDeleted = true
			return nil
		}

		if createdBy == userID {
			if _, err := tx.Exec(ctx, `UPDATE rooms SET created_by = $2 WHERE id = $1`, roomID, next); err != nil {
				return fmt.Errorf("transfer ownership: %w", err)
			}
			res.NewOwner = next
		}
		return nil
	})
	if err != nil {
		return repository.LeaveResult{}, fmt.Errorf("remove member: %w", err)
	}
	return res, nil
}

// CreateJoinRequest reopens a previously resolved request. A request that
// is still pending is a conflict.
func (s *RoomStore) CreateJoinRequest(ctx context.Context, roomID, userID uuid.UUID) (*models.JoinRequest, error) {
	query := `
		INSERT INTO room_join_requests (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO UPDATE
			SET status = 'pending', created_at = now()
			WHERE room_join_requests.status <> 'pending'
		RETURNING id, room_id, user_id, status, created_at`

	var jr models.JoinRequest
	err := s.pool.QueryRow(ctx, query, roomID, userID).
		Scan(&jr.ID, &jr.RoomID, &jr.UserID, &jr.Status, &jr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("create join request: %w", err)
	}
	return &jr, nil
}

func (s *RoomStore) ResolveJoinRequest(ctx context.Context, roomID, requestID uuid.UUID, status models.JoinRequestStatus, maxMembers int) (*models.JoinRequest, error) {
	var out *models.JoinRequest
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, _, found, err := lockRoom(ctx, tx, roomID)
		if err != nil || !found {
			return err
		}

		var jr models.JoinRequest
		err = tx.QueryRow(ctx, `
			UPDATE room_join_requests
			SET status = $3
			WHERE id = $1 AND room_id = $2 AND status = 'pending'
			RETURNING id, room_id, user_id, status, created_at`, requestID, roomID, status).
			Scan(&jr.ID, &jr.RoomID, &jr.UserID, &jr.Status, &jr.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("update join request: %w", err)
		}

		if status == models.JoinRequestApproved {
			if _, err := addMemberLocked(ctx, tx, roomID, jr.UserID, maxMembers); err != nil {
				return err
			}
		}
		out = &jr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve join request: %w", err)
	}
	return out, nil
}

func (s *RoomStore) ListPublic(ctx context.Context) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, roomSelect+` WHERE r.is_public ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list public rooms: %w", err)
	}
	return collectRooms(rows)
}

func (s *RoomStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, roomSelect+`
		WHERE EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = r.id AND m.user_id = $1)
		ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user rooms: %w", err)
	}
	return collectRooms(rows)
}
