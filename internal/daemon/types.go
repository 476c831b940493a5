package daemon

import "time"

// Message mirrors the daemon's inbox/conversation message JSON.
type Message struct {
	ID             string         `json:"id"`
	PeerID         string         `json:"peer_id"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	IsOutbound     bool           `json:"is_outbound"`
	DeliveryStatus string         `json:"delivery_status"`
	IsEncrypted    bool           `json:"is_encrypted"`
	ReplyToID      *string        `json:"reply_to_id"`
	Reactions      map[string]int `json:"reactions"`
	IsAgent        bool           `json:"is_agent"`
	SenderName     *string        `json:"sender_name"`
}

// Conversation mirrors the daemon's conversation summary JSON.
type Conversation struct {
	PeerID             string    `json:"peer_id"`
	DisplayName        string    `json:"display_name"`
	LastMessage        string    `json:"last_message"`
	LastMessageTime    time.Time `json:"last_message_time"`
	SoulFingerprint    *string   `json:"soul_fingerprint"`
	IsOnline           bool      `json:"is_online"`
	IsAgent            bool      `json:"is_agent"`
	UnreadCount        int       `json:"unread_count"`
	LastDeliveryStatus string    `json:"last_delivery_status"`
	IsGroup            bool      `json:"is_group"`
	MemberCount        int       `json:"member_count"`
	AvatarURL          *string   `json:"avatar_url"`
}

// SendResult is the daemon's acknowledgement of an accepted send.
type SendResult struct {
	MessageID string `json:"id"`
	Delivered bool   `json:"delivered"`
}

type sendRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	ReplyToID   string `json:"reply_to_id,omitempty"`
	TTL         int    `json:"ttl,omitempty"`
}

type groupSendRequest struct {
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

type presenceRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}
