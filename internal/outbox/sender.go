// Package outbox drains queued outbound messages through the daemon,
// keeping the local message record and conversation preview in step with
// each attempt.
package outbox

import (
	"context"
	"time"

	"github.com/pchat/pchat/internal/bus"
	"github.com/pchat/pchat/internal/daemon"
	"github.com/pchat/pchat/internal/store"
	"go.uber.org/zap"
)

// Transport is the slice of the daemon client the sender needs.
type Transport interface {
	SendMessage(ctx context.Context, recipientID, content, replyToID string, ttl int) (*daemon.SendResult, error)
	SendGroupMessage(ctx context.Context, groupID, content, replyToID string) (*daemon.SendResult, error)
}

// Sender drains the outbox on a fixed interval.
type Sender struct {
	db     *store.DB
	client Transport
	bus    *bus.Bus
	logger *zap.Logger

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender builds a sender. A non-positive interval falls back to one second.
func NewSender(db *store.DB, client Transport, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Sender {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sender{
		db:       db,
		client:   client,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Enqueue records a message for sending and mirrors it into the message
// store as an optimistic local copy in "sending" state, so the thread shows
// it immediately.
func (s *Sender) Enqueue(e *store.OutboxEntry) error {
	if err := s.db.QueueOutbox(e); err != nil {
		return err
	}
	msg := &store.Message{
		ID:             e.ClientMsgID,
		PeerID:         e.PeerID,
		Content:        e.Content,
		Timestamp:      time.Now().UnixMilli(),
		IsOutbound:     true,
		DeliveryStatus: store.StatusSending,
		ReplyToID:      e.ReplyToID,
	}
	if _, err := s.db.PutMessage(msg); err != nil {
		return err
	}
	if err := s.advanceConversation(msg); err != nil {
		return err
	}
	s.publish(bus.KindMessageUpserted, e.ClientMsgID)
	return nil
}

// Start launches the drain loop. The first pass runs immediately.
func (s *Sender) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.Drain(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				// A tick buffered during an in-flight drain can be ready at
				// the same time as cancellation; the cancelled context must
				// win or a successor drain starts after Stop.
				if loopCtx.Err() != nil {
					return
				}
				s.Drain(context.Background())
			}
		}
	}()
}

// Stop halts the drain loop. A pass already in flight finishes first.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Drain attempts every queued entry once, oldest first. A failed attempt
// marks the entry and its local message failed; it is not retried
// automatically.
func (s *Sender) Drain(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("outbox scan failed", zap.Error(err))
		}
		return
	}
	for i := range pending {
		s.attempt(ctx, &pending[i])
	}
}

func (s *Sender) attempt(ctx context.Context, e *store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(e.ClientMsgID); err != nil {
		if s.logger != nil {
			s.logger.Error("outbox mark sending failed", zap.Error(err))
		}
		return
	}

	var res *daemon.SendResult
	var err error
	if e.IsGroup {
		res, err = s.client.SendGroupMessage(ctx, e.PeerID, e.Content, e.ReplyToID)
	} else {
		res, err = s.client.SendMessage(ctx, e.PeerID, e.Content, e.ReplyToID, e.TTL)
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("send failed",
				zap.String("client_msg_id", e.ClientMsgID),
				zap.String("peer", e.PeerID),
				zap.Error(err))
		}
		_ = s.db.MarkOutboxFailed(e.ClientMsgID, err.Error())
		_ = s.db.UpdateDeliveryStatus(e.PeerID, e.ClientMsgID, store.StatusFailed)
		s.publish(bus.KindMessageSendFailed, e.ClientMsgID)
		return
	}

	if err := s.db.MarkOutboxSent(e.ClientMsgID, res.MessageID); err != nil {
		if s.logger != nil {
			s.logger.Error("outbox mark sent failed", zap.Error(err))
		}
		return
	}
	status := store.StatusSent
	if res.Delivered {
		status = store.StatusDelivered
	}
	_ = s.db.UpdateDeliveryStatus(e.PeerID, e.ClientMsgID, status)
	s.publish(bus.KindMessageSendAck, e.ClientMsgID)
}

func (s *Sender) advanceConversation(msg *store.Message) error {
	conv, err := s.db.GetConversation(msg.PeerID)
	if err != nil {
		return err
	}
	if conv == nil {
		conv = &store.Conversation{
			PeerID:      msg.PeerID,
			DisplayName: msg.PeerID,
		}
	}
	if msg.Timestamp >= conv.LastMessageTime {
		conv.LastMessage = msg.Content
		conv.LastMessageTime = msg.Timestamp
		conv.LastDeliveryStatus = msg.DeliveryStatus
	}
	return s.db.UpsertConversation(conv)
}

func (s *Sender) publish(kind, clientMsgID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: clientMsgID})
}
