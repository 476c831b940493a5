package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pchat/pchat/internal/bus"
	"github.com/pchat/pchat/internal/daemon"
	"github.com/pchat/pchat/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "pchat.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeTransport struct {
	mu        sync.Mutex
	err       error
	delivered bool
	delay     time.Duration
	sent      []string
	groupSent []string
}

func (f *fakeTransport) SendMessage(ctx context.Context, recipientID, content, replyToID string, ttl int) (*daemon.SendResult, error) {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, recipientID)
	return &daemon.SendResult{MessageID: "srv-" + recipientID, Delivered: f.delivered}, nil
}

func (f *fakeTransport) SendGroupMessage(ctx context.Context, groupID, content, replyToID string) (*daemon.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.groupSent = append(f.groupSent, groupID)
	return &daemon.SendResult{MessageID: "srv-" + groupID}, nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestEnqueueCreatesLocalCopy(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &fakeTransport{}, bus.New(), nil, time.Second)

	err := s.Enqueue(&store.OutboxEntry{ClientMsgID: "c-1", PeerID: "lumina", Content: "hi"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := db.ListMessages("lumina")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("messages = %v, %v", msgs, err)
	}
	if !msgs[0].IsOutbound || msgs[0].DeliveryStatus != store.StatusSending {
		t.Fatalf("local copy = %+v", msgs[0])
	}
	conv, _ := db.GetConversation("lumina")
	if conv == nil || conv.LastMessage != "hi" {
		t.Fatalf("conversation = %+v", conv)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 1 {
		t.Fatalf("pending = %v", pending)
	}
}

func TestDrainSendsAndAcks(t *testing.T) {
	db := testDB(t)
	ft := &fakeTransport{}
	s := NewSender(db, ft, bus.New(), nil, time.Second)

	if err := s.Enqueue(&store.OutboxEntry{ClientMsgID: "c-1", PeerID: "lumina", Content: "hi"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Drain(context.Background())

	if ft.sentCount() != 1 {
		t.Fatalf("sent %d times", ft.sentCount())
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Fatalf("still pending: %v", pending)
	}
	msgs, _ := db.ListMessages("lumina")
	if msgs[0].DeliveryStatus != store.StatusSent {
		t.Fatalf("status = %q", msgs[0].DeliveryStatus)
	}
}

func TestDrainDeliveredAck(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &fakeTransport{delivered: true}, bus.New(), nil, time.Second)

	if err := s.Enqueue(&store.OutboxEntry{ClientMsgID: "c-1", PeerID: "lumina", Content: "hi"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Drain(context.Background())

	msgs, _ := db.ListMessages("lumina")
	if msgs[0].DeliveryStatus != store.StatusDelivered {
		t.Fatalf("status = %q", msgs[0].DeliveryStatus)
	}
}

func TestDrainFailureMarksFailed(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	events, unsub := b.Subscribe("message", 8)
	defer unsub()

	ft := &fakeTransport{err: errors.New("connect refused")}
	s := NewSender(db, ft, b, nil, time.Second)

	if err := s.Enqueue(&store.OutboxEntry{ClientMsgID: "c-1", PeerID: "lumina", Content: "hi"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Drain(context.Background())

	msgs, _ := db.ListMessages("lumina")
	if msgs[0].DeliveryStatus != store.StatusFailed {
		t.Fatalf("status = %q", msgs[0].DeliveryStatus)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Fatalf("failed entry still queued: %v", pending)
	}

	var kinds []string
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if len(kinds) == 2 {
			break
		}
	}
	if kinds[0] != bus.KindMessageUpserted || kinds[1] != bus.KindMessageSendFailed {
		t.Fatalf("events = %v", kinds)
	}
}

func TestDrainRoutesGroupMessages(t *testing.T) {
	db := testDB(t)
	ft := &fakeTransport{}
	s := NewSender(db, ft, bus.New(), nil, time.Second)

	if err := s.Enqueue(&store.OutboxEntry{ClientMsgID: "c-1", PeerID: "dev/ops", Content: "hi", IsGroup: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Drain(context.Background())

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.groupSent) != 1 || ft.groupSent[0] != "dev/ops" {
		t.Fatalf("group sends = %v", ft.groupSent)
	}
	if len(ft.sent) != 0 {
		t.Fatalf("direct sends = %v", ft.sent)
	}
}

func TestStartStop(t *testing.T) {
	db := testDB(t)
	ft := &fakeTransport{}
	s := NewSender(db, ft, bus.New(), nil, 10*time.Millisecond)

	if err := s.Enqueue(&store.OutboxEntry{ClientMsgID: "c-1", PeerID: "lumina", Content: "hi"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for ft.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if ft.sentCount() != 1 {
		t.Fatalf("sent %d times", ft.sentCount())
	}
}

func TestStopDuringInFlightDrain(t *testing.T) {
	// Slow sends make a drain pass outlast the interval, so a tick is
	// buffered when Stop fires mid-pass. The in-flight pass finishes its
	// snapshot, but no successor pass may pick up later arrivals.
	db := testDB(t)
	ft := &fakeTransport{delay: 100 * time.Millisecond}
	s := NewSender(db, ft, bus.New(), nil, 5*time.Millisecond)

	for _, id := range []string{"c-1", "c-2"} {
		if err := s.Enqueue(&store.OutboxEntry{ClientMsgID: id, PeerID: "lumina", Content: "hi"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for ft.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ft.sentCount() == 0 {
		t.Fatal("drain never started")
	}

	// Queued while the first pass is still in flight; only a successor
	// pass could send these.
	for _, id := range []string{"c-3", "c-4", "c-5"} {
		if err := s.Enqueue(&store.OutboxEntry{ClientMsgID: id, PeerID: "lumina", Content: "late"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	s.Stop()

	sent := ft.sentCount()
	if sent != 2 {
		t.Fatalf("in-flight pass sent %d, want its full snapshot of 2", sent)
	}
	time.Sleep(50 * time.Millisecond)
	if ft.sentCount() != sent {
		t.Errorf("successor drain after Stop: %d -> %d", sent, ft.sentCount())
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Errorf("pending = %d, want the 3 late entries untouched", len(pending))
	}
}
