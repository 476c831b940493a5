package bus

import "time"

// Event kinds published by the core. Subscribers filter by namespace
// prefix, e.g. "daemon." catches every daemon health change.
const (
	KindDaemonStateChanged = "daemon.state_changed"
	KindSyncMerge          = "sync.merge"
	KindMessageUpserted    = "message.upserted"
	KindMessageSendAck     = "message.send_ack"
	KindMessageSendFailed  = "message.send_failed"
	KindThreadUpdated      = "thread.updated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
