package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + outbox)", result.Version)
	}
}

func TestPartitionKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lumina", "lumina"},
		{"Lumina", "lumina"},
		{"lumina@node-7", "lumina_node_7"},
		{"lumina.node.7", "lumina_node_7"},
		{"", ""},
		{"Ünïcode Peer", "ünïcode_peer"},
		{"早苗", "早苗"},
		{"a b!c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := PartitionKey(tt.in); got != tt.want {
			t.Errorf("PartitionKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPartitionKeyFoldsCaseAndPunctuation(t *testing.T) {
	// Ids differing only in case or punctuation share a partition.
	if PartitionKey("Lumina@Node") != PartitionKey("lumina.node") {
		t.Error("case/punctuation variants should map to the same partition")
	}
	// Genuinely distinct ids must not collide.
	if PartitionKey("lumina") == PartitionKey("lumina2") {
		t.Error("distinct peer ids collided")
	}
}

func TestPutMessageIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ID: "m1", PeerID: "lumina", Content: "hello", Timestamp: 1000, DeliveryStatus: StatusSent}
	inserted, err := db.PutMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first put should report inserted")
	}

	msg.Content = "hello updated"
	inserted, err = db.PutMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second put should not report inserted")
	}

	msgs, err := db.ListMessages("lumina")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert)", len(msgs))
	}
	if msgs[0].Content != "hello updated" {
		t.Errorf("content = %q, want hello updated", msgs[0].Content)
	}
}

func TestListMessagesAscending(t *testing.T) {
	db := testDB(t)

	// Insert out of order.
	for _, m := range []*Message{
		{ID: "m3", PeerID: "lumina", Content: "third", Timestamp: 3000, DeliveryStatus: StatusSent},
		{ID: "m1", PeerID: "lumina", Content: "first", Timestamp: 1000, DeliveryStatus: StatusSent},
		{ID: "m2", PeerID: "lumina", Content: "second", Timestamp: 2000, DeliveryStatus: StatusSent},
	} {
		if _, err := db.PutMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("lumina")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, want)
		}
	}
}

func TestDeliveryStatusNeverRegresses(t *testing.T) {
	db := testDB(t)

	if _, err := db.PutMessage(&Message{ID: "m1", PeerID: "p", Timestamp: 1, DeliveryStatus: StatusRead}); err != nil {
		t.Fatal(err)
	}

	// Re-delivery with an earlier status must not move it backward.
	if _, err := db.PutMessage(&Message{ID: "m1", PeerID: "p", Timestamp: 1, DeliveryStatus: StatusSent}); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages("p")
	if msgs[0].DeliveryStatus != StatusRead {
		t.Errorf("status = %q, want read (no regression)", msgs[0].DeliveryStatus)
	}

	// Explicit out-of-order status update is ignored too.
	if err := db.UpdateDeliveryStatus("p", "m1", StatusDelivered); err != nil {
		t.Fatal(err)
	}
	msgs, _ = db.ListMessages("p")
	if msgs[0].DeliveryStatus != StatusRead {
		t.Errorf("status = %q after backward update, want read", msgs[0].DeliveryStatus)
	}
}

func TestUpdateDeliveryStatusForward(t *testing.T) {
	db := testDB(t)

	if _, err := db.PutMessage(&Message{ID: "m1", PeerID: "p", Timestamp: 1, DeliveryStatus: StatusSending}); err != nil {
		t.Fatal(err)
	}
	for _, s := range []DeliveryStatus{StatusSent, StatusDelivered, StatusRead} {
		if err := db.UpdateDeliveryStatus("p", "m1", s); err != nil {
			t.Fatal(err)
		}
		msgs, _ := db.ListMessages("p")
		if msgs[0].DeliveryStatus != s {
			t.Errorf("status = %q, want %q", msgs[0].DeliveryStatus, s)
		}
	}
}

func TestUpdateDeliveryStatusMissingIsNoop(t *testing.T) {
	db := testDB(t)
	if err := db.UpdateDeliveryStatus("p", "ghost", StatusRead); err != nil {
		t.Errorf("missing message should be a no-op, got %v", err)
	}
}

func TestFailedOnlyFromInFlight(t *testing.T) {
	tests := []struct {
		cur  DeliveryStatus
		want bool
	}{
		{StatusSending, true},
		{StatusSent, true},
		{StatusDelivered, false},
		{StatusRead, false},
	}
	for _, tt := range tests {
		if got := Advances(tt.cur, StatusFailed); got != tt.want {
			t.Errorf("Advances(%q, failed) = %v, want %v", tt.cur, got, tt.want)
		}
	}
	// A failed message can be retried forward.
	if !Advances(StatusFailed, StatusSent) {
		t.Error("failed -> sent should be allowed")
	}
}

func TestClearMessages(t *testing.T) {
	db := testDB(t)

	if _, err := db.PutMessage(&Message{ID: "m1", PeerID: "lumina", Timestamp: 1, DeliveryStatus: StatusSent}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.PutMessage(&Message{ID: "m2", PeerID: "other", Timestamp: 1, DeliveryStatus: StatusSent}); err != nil {
		t.Fatal(err)
	}

	if err := db.ClearMessages("lumina"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("lumina")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after clear, want 0", len(msgs))
	}

	// Other partitions are untouched.
	n, _ := db.CountMessages("other")
	if n != 1 {
		t.Errorf("other peer count = %d, want 1", n)
	}
}

func TestPutMessagesReportsNewCount(t *testing.T) {
	db := testDB(t)

	batch := []*Message{
		{ID: "m1", PeerID: "p", Timestamp: 1, DeliveryStatus: StatusSent},
		{ID: "m2", PeerID: "p", Timestamp: 2, DeliveryStatus: StatusSent},
	}
	n, err := db.PutMessages(batch)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("new count = %d, want 2", n)
	}

	// Re-applying the same batch plus one new id counts only the new one.
	batch = append(batch, &Message{ID: "m3", PeerID: "p", Timestamp: 3, DeliveryStatus: StatusSent})
	n, err = db.PutMessages(batch)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("new count = %d, want 1", n)
	}
}

func TestReactionsRoundTrip(t *testing.T) {
	db := testDB(t)

	if _, err := db.PutMessage(&Message{
		ID: "m1", PeerID: "p", Timestamp: 1, DeliveryStatus: StatusSent,
		Reactions: map[string]int{"👍": 2, "🔥": 1},
	}); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("p")
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Reactions["👍"] != 2 || msgs[0].Reactions["🔥"] != 1 {
		t.Errorf("reactions = %v", msgs[0].Reactions)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	c := &Conversation{PeerID: "lumina", DisplayName: "Lumina", LastMessage: "hi", LastMessageTime: 1000}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	c.DisplayName = "Lumina Updated"
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].DisplayName != "Lumina Updated" {
		t.Errorf("display name = %q, want Lumina Updated", convs[0].DisplayName)
	}
}

func TestUpsertConversationsBulk(t *testing.T) {
	db := testDB(t)

	batch := []*Conversation{
		{PeerID: "a", DisplayName: "A", LastMessageTime: 1},
		{PeerID: "b", DisplayName: "B", LastMessageTime: 2},
	}
	if err := db.UpsertConversations(batch); err != nil {
		t.Fatal(err)
	}
	batch[0].DisplayName = "A2"
	if err := db.UpsertConversations(batch); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[1].DisplayName != "A2" {
		t.Errorf("display name = %q, want A2", convs[1].DisplayName)
	}
}

func TestListConversationsOrder(t *testing.T) {
	db := testDB(t)

	// Two with equal timestamps keep insertion order; newest first overall.
	for _, c := range []*Conversation{
		{PeerID: "old", LastMessageTime: 1000},
		{PeerID: "tie-a", LastMessageTime: 2000},
		{PeerID: "tie-b", LastMessageTime: 2000},
		{PeerID: "new", LastMessageTime: 3000},
	} {
		if err := db.UpsertConversation(c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"new", "tie-a", "tie-b", "old"}
	if len(convs) != len(want) {
		t.Fatalf("got %d conversations, want %d", len(convs), len(want))
	}
	for i, w := range want {
		if convs[i].PeerID != w {
			t.Errorf("convs[%d] = %q, want %q", i, convs[i].PeerID, w)
		}
	}
}

func TestIsEmptyAndDelete(t *testing.T) {
	db := testDB(t)

	empty, err := db.IsEmpty()
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("fresh store should be empty")
	}

	if err := db.UpsertConversation(&Conversation{PeerID: "p"}); err != nil {
		t.Fatal(err)
	}
	empty, _ = db.IsEmpty()
	if empty {
		t.Error("store with one conversation should not be empty")
	}

	if err := db.DeleteConversation("p"); err != nil {
		t.Fatal(err)
	}
	// Deleting an absent peer is a no-op.
	if err := db.DeleteConversation("ghost"); err != nil {
		t.Errorf("delete of missing peer should be a no-op, got %v", err)
	}
	empty, _ = db.IsEmpty()
	if !empty {
		t.Error("store should be empty after delete")
	}
}

func TestMarkRead(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{PeerID: "p", UnreadCount: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkRead("p"); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("p")
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "c1", PeerID: "lumina", Content: "hey"}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "c1" {
		t.Fatalf("pending = %+v, want one entry c1", pending)
	}

	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("c1", "srv1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}
