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

// MessageStore persists messages in Postgres.
//
// Why array columns for read_by and deleted_by?
//   - They are small per-message sets that are always read with the row.
//     array_append guarded by "NOT $id = ANY(...)" makes adding to them an
//     atomic, idempotent single statement, so concurrent readers never
//     overwrite each other.
type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `m.id, m.sender_id, m.receiver_id, m.room_id, m.content, m.created_at, m.recalled, m.deleted_by, m.read_by`

func messageDest(msg *models.Message) []any {
	return []any{
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.RoomID, &msg.Content,
		&msg.CreatedAt, &msg.Recalled, &msg.DeletedBy, &msg.ReadBy,
	}
}

// viewSelect joins the sender so every view is populated in one query.
const viewSelect = `
	SELECT ` + messageColumns + `, u.username, u.avatar_url
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func scanView(row pgx.Row) (*models.MessageView, error) {
	var v models.MessageView
	dest := append(messageDest(&v.Message), &v.Sender.Username, &v.Sender.AvatarURL)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	v.Sender.ID = v.SenderID
	return &v, nil
}

// Create rejects a message with both or neither target before touching
// the database; the table CHECK enforces the same rule.
func (s *MessageStore) Create(ctx context.Context, in repository.NewMessage) (*models.Message, error) {
	if (in.ReceiverID == nil) == (in.RoomID == nil) {
		return nil, errors.New("insert message: exactly one of receiver or room is required")
	}
	query := `
		INSERT INTO messages AS m (sender_id, receiver_id, room_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	var msg models.Message
	if err := s.pool.QueryRow(ctx, query, in.SenderID, in.ReceiverID, in.RoomID, in.Content).
		Scan(messageDest(&msg)...); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	err := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, messageID).
		Scan(messageDest(&msg)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) GetWithSender(ctx context.Context, messageID uuid.UUID) (*models.MessageView, error) {
	v, err := scanView(s.pool.QueryRow(ctx, viewSelect+` WHERE m.id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message with sender: %w", err)
	}
	return v, nil
}

// MarkRead is a single set-add statement: the WHERE clause skips rows that
// already contain the reader, so RETURNING yields only new reads.
func (s *MessageStore) MarkRead(ctx context.Context, messageIDs []uuid.UUID, readerID uuid.UUID) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return []models.Message{}, nil
	}
	query := `
		UPDATE messages AS m
		SET read_by = array_append(m.read_by, $2)
		WHERE m.id = ANY($1) AND NOT ($2 = ANY(m.read_by))
		RETURNING ` + messageColumns

	rows, err := s.pool.Query(ctx, query, messageIDs, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	marked := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(messageDest(&msg)...); err != nil {
			return nil, fmt.Errorf("scan marked message: %w", err)
		}
		marked = append(marked, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marked messages: %w", err)
	}
	return marked, nil
}

// Recall only fires while read_by is a subset of {sender}. A concurrent
// MarkRead either lands first and makes this a no-op, or lands after and
// sees recalled=true.
func (s *MessageStore) Recall(ctx context.Context, messageID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET recalled = true
		WHERE id = $1 AND NOT recalled AND read_by <@ ARRAY[sender_id]`, messageID)
	if err != nil {
		return false, fmt.Errorf("recall message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *MessageStore) AddDeletedBy(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET deleted_by = array_append(deleted_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(deleted_by))`, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("delete message for user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *MessageStore) DeleteBySender(ctx context.Context, messageID, senderID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, messageID, senderID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cursor pagination on created_at: before names a message, and the page
// holds messages strictly older than it.
func (s *MessageStore) ListRoom(ctx context.Context, roomID, viewerID, before uuid.UUID, limit int) ([]models.MessageView, error) {
	query := viewSelect + `
		WHERE m.room_id = $1
		  AND NOT ($2 = ANY(m.deleted_by))
		  AND ($3 = '00000000-0000-0000-0000-000000000000'::uuid
		       OR m.created_at < (SELECT created_at FROM messages WHERE id = $3))
		ORDER BY m.created_at DESC
		LIMIT $4`
	return s.listViews(ctx, query, roomID, viewerID, before, limit)
}

func (s *MessageStore) ListPrivate(ctx context.Context, a, b, viewerID, before uuid.UUID, limit int) ([]models.MessageView, error) {
	query := viewSelect + `
		WHERE ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))
		  AND NOT ($3 = ANY(m.deleted_by))
		  AND ($4 = '00000000-0000-0000-0000-000000000000'::uuid
		       OR m.created_at < (SELECT created_at FROM messages WHERE id = $4))
		ORDER BY m.created_at DESC
		LIMIT $5`
	return s.listViews(ctx, query, a, b, viewerID, before, limit)
}

func (s *MessageStore) listViews(ctx context.Context, query string, args ...any) ([]models.MessageView, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	views := make([]models.MessageView, 0)
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		views = append(views, v.Redacted())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return views, nil
}
