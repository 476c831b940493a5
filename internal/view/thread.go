// Package view keeps an in-memory, UI-facing message list per conversation,
// hydrated lazily from the message store.
package view

import (
	"sort"
	"sync"
	"time"

	"github.com/pchat/pchat/internal/bus"
	"github.com/pchat/pchat/internal/store"
	"go.uber.org/zap"
)

// Manager hands out one Thread per peer.
type Manager struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	threads map[string]*Thread
}

// NewManager creates a thread manager over the given store.
func NewManager(db *store.DB, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		db:      db,
		bus:     b,
		logger:  logger,
		threads: make(map[string]*Thread),
	}
}

// Thread returns the view state for a peer, creating it on first access.
// Creation kicks off asynchronous hydration from the store; until that
// completes, Messages returns whatever is in memory (initially nothing).
func (m *Manager) Thread(peerID string) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[peerID]; ok {
		return t
	}
	t := &Thread{
		peerID: peerID,
		db:     m.db,
		bus:    m.bus,
		logger: m.logger,
	}
	m.threads[peerID] = t
	go t.hydrate()
	return t
}

// Thread is the in-memory message list for one conversation. The message
// store stays the durable source of truth; the thread is a write-through
// cache over it.
type Thread struct {
	peerID string
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu   sync.Mutex
	msgs []store.Message
}

// PeerID returns the peer this thread belongs to.
func (t *Thread) PeerID() string { return t.peerID }

// Messages returns a copy of the current in-memory sequence.
func (t *Thread) Messages() []store.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]store.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// hydrate loads the persisted sequence and merges it under the in-memory
// state. Messages added locally while hydration was loading are persisted by
// AddMessage, but this read may predate them, so anything in memory that the
// load missed is re-appended rather than dropped.
func (t *Thread) hydrate() {
	persisted, err := t.db.ListMessages(t.peerID)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("thread hydration failed", zap.String("peer", t.peerID), zap.Error(err))
		}
		return
	}
	if len(persisted) == 0 {
		return
	}

	t.mu.Lock()
	seen := make(map[string]bool, len(persisted))
	for _, m := range persisted {
		seen[m.ID] = true
	}
	merged := persisted
	for _, m := range t.msgs {
		if !seen[m.ID] {
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	t.msgs = merged
	t.mu.Unlock()

	t.notify()
}

// AddMessage appends to the in-memory state, persists the message, and
// advances the conversation summary with the same not-older rule the
// reconciler uses.
func (t *Thread) AddMessage(msg *store.Message) error {
	t.mu.Lock()
	t.msgs = append(t.msgs, *msg)
	t.mu.Unlock()

	if _, err := t.db.PutMessage(msg); err != nil {
		return err
	}
	if err := t.advanceConversation(msg); err != nil {
		return err
	}
	t.notify()
	return nil
}

// UpdateDeliveryStatus updates the matching in-memory message and persists
// the change. Non-matching messages are untouched.
func (t *Thread) UpdateDeliveryStatus(msgID string, status store.DeliveryStatus) error {
	t.mu.Lock()
	for i := range t.msgs {
		if t.msgs[i].ID == msgID && store.Advances(t.msgs[i].DeliveryStatus, status) {
			t.msgs[i].DeliveryStatus = status
		}
	}
	t.mu.Unlock()

	if err := t.db.UpdateDeliveryStatus(t.peerID, msgID, status); err != nil {
		return err
	}
	t.notify()
	return nil
}

func (t *Thread) advanceConversation(msg *store.Message) error {
	conv, err := t.db.GetConversation(t.peerID)
	if err != nil {
		return err
	}
	if conv == nil {
		conv = &store.Conversation{
			PeerID:      t.peerID,
			DisplayName: t.peerID,
		}
	}
	if msg.Timestamp >= conv.LastMessageTime {
		conv.LastMessage = msg.Content
		conv.LastMessageTime = msg.Timestamp
		conv.LastDeliveryStatus = msg.DeliveryStatus
	}
	return t.db.UpsertConversation(conv)
}

func (t *Thread) notify() {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{
		Kind:      bus.KindThreadUpdated,
		Timestamp: time.Now(),
		Payload:   t.peerID,
	})
}
