package store

// DeliveryStatus tracks a message's delivery lifecycle.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// statusRank defines the forward order sending < sent < delivered < read.
// Failed sits outside the ladder and is handled by Advances.
var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Advances reports whether moving from cur to next is a legal status change.
// Backward moves are ignored rather than applied, so a re-delivered "sent"
// can never regress a message already marked "read". Failed is accepted only
// while the message is still in flight (sending or sent).
func Advances(cur, next DeliveryStatus) bool {
	if cur == next {
		return false
	}
	if next == StatusFailed {
		return cur == StatusSending || cur == StatusSent
	}
	if cur == StatusFailed {
		// A failed message may be retried and move forward again.
		return statusRank[next] >= statusRank[StatusSent]
	}
	return statusRank[next] > statusRank[cur]
}

// Message is one chat message in the local cache. Timestamp is unix millis.
type Message struct {
	ID             string
	PeerID         string
	Content        string
	Timestamp      int64
	IsOutbound     bool
	DeliveryStatus DeliveryStatus
	IsEncrypted    bool
	ReplyToID      string
	Reactions      map[string]int
	IsAgent        bool
	SenderName     string
}

// Conversation is the denormalized per-peer summary record.
type Conversation struct {
	PeerID             string
	DisplayName        string
	LastMessage        string
	LastMessageTime    int64
	SoulFingerprint    string
	IsOnline           bool
	IsAgent            bool
	UnreadCount        int
	LastDeliveryStatus DeliveryStatus
	IsGroup            bool
	MemberCount        int
	AvatarURL          string
}

// OutboxEntry is a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	PeerID       string
	Content      string
	ReplyToID    string
	TTL          int
	IsGroup      bool
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
