package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates the summary record for a peer.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (peer_id, display_name, last_message, last_message_time,
			soul_fingerprint, is_online, is_agent, unread_count, last_delivery_status,
			is_group, member_count, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			display_name = excluded.display_name,
			last_message = excluded.last_message,
			last_message_time = excluded.last_message_time,
			soul_fingerprint = excluded.soul_fingerprint,
			is_online = excluded.is_online,
			is_agent = excluded.is_agent,
			unread_count = excluded.unread_count,
			last_delivery_status = excluded.last_delivery_status,
			is_group = excluded.is_group,
			member_count = excluded.member_count,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
		c.PeerID, c.DisplayName, c.LastMessage, c.LastMessageTime,
		c.SoulFingerprint, c.IsOnline, c.IsAgent, c.UnreadCount, string(c.LastDeliveryStatus),
		c.IsGroup, c.MemberCount, c.AvatarURL, now)
	return err
}

// UpsertConversations bulk-upserts summary records in one transaction.
func (db *DB) UpsertConversations(convs []*Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range convs {
		if _, err := tx.Exec(`
			INSERT INTO conversations (peer_id, display_name, last_message, last_message_time,
				soul_fingerprint, is_online, is_agent, unread_count, last_delivery_status,
				is_group, member_count, avatar_url, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(peer_id) DO UPDATE SET
				display_name = excluded.display_name,
				last_message = excluded.last_message,
				last_message_time = excluded.last_message_time,
				soul_fingerprint = excluded.soul_fingerprint,
				is_online = excluded.is_online,
				is_agent = excluded.is_agent,
				unread_count = excluded.unread_count,
				last_delivery_status = excluded.last_delivery_status,
				is_group = excluded.is_group,
				member_count = excluded.member_count,
				avatar_url = excluded.avatar_url,
				updated_at = excluded.updated_at`,
			c.PeerID, c.DisplayName, c.LastMessage, c.LastMessageTime,
			c.SoulFingerprint, c.IsOnline, c.IsAgent, c.UnreadCount, string(c.LastDeliveryStatus),
			c.IsGroup, c.MemberCount, c.AvatarURL, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const conversationColumns = `peer_id, display_name, last_message, last_message_time,
	soul_fingerprint, is_online, is_agent, unread_count, last_delivery_status,
	is_group, member_count, avatar_url`

// ListConversations returns all summaries, most recent message first.
// Equal timestamps keep insertion order (rowid), so the sort is stable.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT ` + conversationColumns + `
		FROM conversations
		ORDER BY last_message_time DESC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.PeerID, &c.DisplayName, &c.LastMessage, &c.LastMessageTime,
			&c.SoulFingerprint, &c.IsOnline, &c.IsAgent, &c.UnreadCount, &c.LastDeliveryStatus,
			&c.IsGroup, &c.MemberCount, &c.AvatarURL); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single summary by peer id, nil if absent.
func (db *DB) GetConversation(peerID string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE peer_id = ?`, peerID).
		Scan(&c.PeerID, &c.DisplayName, &c.LastMessage, &c.LastMessageTime,
			&c.SoulFingerprint, &c.IsOnline, &c.IsAgent, &c.UnreadCount, &c.LastDeliveryStatus,
			&c.IsGroup, &c.MemberCount, &c.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteConversation removes one summary. Missing peer ids are a no-op.
func (db *DB) DeleteConversation(peerID string) error {
	_, err := db.Exec(`DELETE FROM conversations WHERE peer_id = ?`, peerID)
	return err
}

// IsEmpty reports whether any conversation summaries exist.
func (db *DB) IsEmpty() (bool, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM conversations)`).Scan(&exists)
	return !exists, err
}

// MarkRead resets the unread counter for a peer. The reconciler only ever
// increments it; this is the explicit user action that clears it.
func (db *DB) MarkRead(peerID string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE peer_id = ?`, peerID)
	return err
}
