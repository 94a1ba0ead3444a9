package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// InsertMessage appends a message to the log.
func (s *SQLiteStore) InsertMessage(ctx context.Context, p InsertMessageParams) (*model.Message, error) {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()
	id := s.newID(createdAt)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, unit_id, content, color, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, p.UnitID, p.Content, p.Color, toNanos(createdAt))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &model.Message{
		ID:        id,
		Seq:       seq,
		UnitID:    p.UnitID,
		Content:   p.Content,
		Color:     p.Color,
		CreatedAt: createdAt,
	}, nil
}

// RecentMessages returns the newest limit messages, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			ORDER BY created_at DESC, seq DESC LIMIT ?
		 ) ORDER BY created_at, seq`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

// MessagesAfter returns messages appended after seq.
func (s *SQLiteStore) MessagesAfter(ctx context.Context, seq int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE seq > ? ORDER BY seq LIMIT ?`, seq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

// LatestMessageSeq returns the highest seq ever assigned, including to rows
// that were since deleted, so a feed cursor never replays purged history.
func (s *SQLiteStore) LatestMessageSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT seq FROM sqlite_sequence WHERE name = 'messages'), 0)`).Scan(&seq)
	return seq, err
}

// DeleteMessagesBefore removes messages created strictly before cutoff.
// Running it again over the same data deletes nothing further.
func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllMessages removes every message.
func (s *SQLiteStore) DeleteAllMessages(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.RowsAffected()
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
