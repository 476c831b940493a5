package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PutMessage upserts a message by id (idempotent). It reports whether the
// message was newly inserted. Re-saving an existing id overwrites content
// and reactions but never regresses delivery status.
func (db *DB) PutMessage(m *Message) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := upsertMessage(tx, m)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit message: %w", err)
	}
	return inserted, nil
}

// PutMessages bulk-upserts a batch in one transaction. It returns the number
// of messages that were not previously seen.
func (db *DB) PutMessages(msgs []*Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	newCount := 0
	for _, m := range msgs {
		inserted, err := upsertMessage(tx, m)
		if err != nil {
			return 0, err
		}
		if inserted {
			newCount++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return newCount, nil
}

func upsertMessage(tx *sql.Tx, m *Message) (bool, error) {
	key := PartitionKey(m.PeerID)

	var cur DeliveryStatus
	err := tx.QueryRow(`SELECT delivery_status FROM messages WHERE peer_key = ? AND msg_id = ?`,
		key, m.ID).Scan(&cur)
	if err == sql.ErrNoRows {
		_, err := tx.Exec(`
			INSERT INTO messages (peer_key, msg_id, peer_id, content, timestamp, is_outbound,
				delivery_status, is_encrypted, reply_to_id, reactions, is_agent, sender_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key, m.ID, m.PeerID, m.Content, m.Timestamp, m.IsOutbound,
			string(m.DeliveryStatus), m.IsEncrypted, m.ReplyToID, encodeReactions(m.Reactions),
			m.IsAgent, m.SenderName, time.Now().UnixMilli())
		if err != nil {
			return false, fmt.Errorf("insert message: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup message: %w", err)
	}

	status := cur
	if Advances(cur, m.DeliveryStatus) {
		status = m.DeliveryStatus
	}
	_, err = tx.Exec(`
		UPDATE messages SET content = ?, sender_name = ?, reactions = ?,
			delivery_status = ?, is_encrypted = ?, reply_to_id = ?
		WHERE peer_key = ? AND msg_id = ?`,
		m.Content, m.SenderName, encodeReactions(m.Reactions),
		string(status), m.IsEncrypted, m.ReplyToID, key, m.ID)
	if err != nil {
		return false, fmt.Errorf("update message: %w", err)
	}
	return false, nil
}

// ListMessages returns all messages for a peer sorted ascending by timestamp.
// Ties are broken by insertion order.
func (db *DB) ListMessages(peerID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, peer_id, content, timestamp, is_outbound, delivery_status,
			is_encrypted, reply_to_id, reactions, is_agent, sender_name
		FROM messages
		WHERE peer_key = ?
		ORDER BY timestamp ASC, id ASC`, PartitionKey(peerID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var reactions string
		if err := rows.Scan(&m.ID, &m.PeerID, &m.Content, &m.Timestamp, &m.IsOutbound,
			&m.DeliveryStatus, &m.IsEncrypted, &m.ReplyToID, &reactions, &m.IsAgent,
			&m.SenderName); err != nil {
			return nil, err
		}
		m.Reactions = decodeReactions(reactions)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the number of messages stored for a peer.
func (db *DB) CountMessages(peerID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE peer_key = ?`,
		PartitionKey(peerID)).Scan(&n)
	return n, err
}

// ClearMessages deletes every message for a peer in one statement, so
// concurrent readers see either all of them or none.
func (db *DB) ClearMessages(peerID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE peer_key = ?`, PartitionKey(peerID))
	return err
}

// UpdateDeliveryStatus moves a message's delivery status forward. A missing
// message id is a no-op, not an error. Backward transitions are ignored.
func (db *DB) UpdateDeliveryStatus(peerID, msgID string, status DeliveryStatus) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	key := PartitionKey(peerID)
	var cur DeliveryStatus
	err = tx.QueryRow(`SELECT delivery_status FROM messages WHERE peer_key = ? AND msg_id = ?`,
		key, msgID).Scan(&cur)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if !Advances(cur, status) {
		return nil
	}
	if _, err := tx.Exec(`UPDATE messages SET delivery_status = ? WHERE peer_key = ? AND msg_id = ?`,
		string(status), key, msgID); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

func encodeReactions(r map[string]int) string {
	if len(r) == 0 {
		return "{}"
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeReactions(s string) map[string]int {
	if s == "" || s == "{}" {
		return nil
	}
	var r map[string]int
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil
	}
	return r
}
