package storage

import (
	"errors"
	"fmt"
)

// SaveMessage inserts a new history row.
func (s *Store) SaveMessage(message Message) error {
	if message.MessageID == "" {
		return errors.New("message_id is required")
	}
	if err := validateMessageKind(message.Kind); err != nil {
		return err
	}
	if message.ReceivedAt == 0 {
		message.ReceivedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (
			message_id,
			kind,
			from_id,
			from_name,
			data_type,
			content,
			received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.Kind,
		nullString(message.FromID),
		nullString(message.FromName),
		nullString(message.DataType),
		message.Content,
		message.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	return nil
}

// RecentMessages returns up to limit history rows, oldest first.
func (s *Store) RecentMessages(limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT message_id, kind, from_id, from_name, data_type, content, received_at
		FROM (
			SELECT rowid AS seq, message_id, kind, from_id, from_name, data_type, content, received_at
			FROM messages
			ORDER BY received_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY received_at ASC, seq ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			message  Message
			fromID   = nullString("")
			fromName = nullString("")
			dataType = nullString("")
		)
		if err := rows.Scan(
			&message.MessageID,
			&message.Kind,
			&fromID,
			&fromName,
			&dataType,
			&message.Content,
			&message.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		message.FromID = fromID.String
		message.FromName = fromName.String
		message.DataType = dataType.String
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// PruneMessagesBefore deletes history rows received before the cutoff (unix millis).
func (s *Store) PruneMessagesBefore(cutoff int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for prune messages: %w", err)
	}
	return deleted, nil
}
