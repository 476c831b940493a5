package sync

import (
	"fmt"
	"sort"

	"github.com/pchat/pchat/internal/daemon"
	"github.com/pchat/pchat/internal/store"
)

// MergeResult summarizes one merge cycle.
type MergeResult struct {
	NewMessages int
	Peers       int
}

// Merge applies a batch of inbound messages: per peer, in timestamp order,
// upsert into the message store, then recompute that peer's conversation
// summary. Re-applying the same batch is a no-op (idempotent on message id),
// and unread counts grow only by genuinely new inbound ids.
func (r *Reconciler) Merge(batch []daemon.Message) (MergeResult, error) {
	if len(batch) == 0 {
		return MergeResult{}, nil
	}

	groups := make(map[string][]daemon.Message)
	for _, m := range batch {
		groups[m.PeerID] = append(groups[m.PeerID], m)
	}
	peers := make([]string, 0, len(groups))
	for peer := range groups {
		peers = append(peers, peer)
	}
	sort.Strings(peers)

	var res MergeResult
	for _, peer := range peers {
		group := groups[peer]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		newInbound := 0
		for i := range group {
			msg := toStoreMessage(&group[i])
			inserted, err := r.db.PutMessage(msg)
			if err != nil {
				return res, fmt.Errorf("merge peer %s: %w", peer, err)
			}
			if inserted {
				res.NewMessages++
				if !msg.IsOutbound {
					newInbound++
				}
			}
		}

		// The message writes above must be durable before the summary
		// advances, so a crash here only loses the cheap-to-rebuild preview.
		if err := r.updateConversation(peer, group, newInbound); err != nil {
			return res, fmt.Errorf("merge peer %s: %w", peer, err)
		}
		res.Peers++
	}
	return res, nil
}

// updateConversation recomputes a peer's summary after its messages landed.
// The preview advances only when the newest arrival is not older than the
// current preview, so out-of-order delivery never regresses it. Unread
// still grows either way.
func (r *Reconciler) updateConversation(peerID string, group []daemon.Message, newInbound int) error {
	newest := &group[len(group)-1]

	conv, err := r.db.GetConversation(peerID)
	if err != nil {
		return err
	}
	if conv == nil {
		conv = &store.Conversation{
			PeerID:      peerID,
			DisplayName: displayName(newest),
			IsAgent:     newest.IsAgent,
		}
		applyPreview(conv, newest)
		conv.UnreadCount = newInbound
		return r.db.UpsertConversation(conv)
	}

	conv.UnreadCount += newInbound
	if newest.Timestamp.UnixMilli() >= conv.LastMessageTime {
		applyPreview(conv, newest)
	}
	return r.db.UpsertConversation(conv)
}

func applyPreview(conv *store.Conversation, m *daemon.Message) {
	conv.LastMessage = m.Content
	conv.LastMessageTime = m.Timestamp.UnixMilli()
	conv.LastDeliveryStatus = wireStatus(m.DeliveryStatus)
}

func displayName(m *daemon.Message) string {
	if m.SenderName != nil && *m.SenderName != "" {
		return *m.SenderName
	}
	return m.PeerID
}

func toStoreMessage(m *daemon.Message) *store.Message {
	sm := &store.Message{
		ID:             m.ID,
		PeerID:         m.PeerID,
		Content:        m.Content,
		Timestamp:      m.Timestamp.UnixMilli(),
		IsOutbound:     m.IsOutbound,
		DeliveryStatus: wireStatus(m.DeliveryStatus),
		IsEncrypted:    m.IsEncrypted,
		Reactions:      m.Reactions,
		IsAgent:        m.IsAgent,
	}
	if m.ReplyToID != nil {
		sm.ReplyToID = *m.ReplyToID
	}
	if m.SenderName != nil {
		sm.SenderName = *m.SenderName
	}
	return sm
}

func wireStatus(s string) store.DeliveryStatus {
	if s == "" {
		return store.StatusSent
	}
	return store.DeliveryStatus(s)
}
