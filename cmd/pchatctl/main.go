package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pchat/pchat/internal/config"
	"github.com/pchat/pchat/internal/daemon"
	"github.com/pchat/pchat/internal/session"
	"github.com/pchat/pchat/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	client := daemon.New(cfg.DaemonBaseURL(), cfg.ConnectTimeout(), cfg.ReceiveTimeout())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, client, *jsonFlag)
	case "conversations":
		cmdConversations(sessionName, *jsonFlag)
	case "peers":
		cmdPeers(ctx, client, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pchatctl messages <peer>")
			os.Exit(1)
		}
		cmdMessages(sessionName, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: pchatctl send <peer> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, client, sessionName, args[1], strings.Join(args[2:], " "))
	case "fetch":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pchatctl fetch <peer>")
			os.Exit(1)
		}
		cmdFetch(ctx, client, sessionName, args[1])
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pchatctl read <peer>")
			os.Exit(1)
		}
		cmdRead(sessionName, args[1])
	case "presence":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pchatctl presence <peer>")
			os.Exit(1)
		}
		cmdPresence(ctx, client, args[1], *jsonFlag)
	case "announce":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pchatctl announce <status> [note]")
			os.Exit(1)
		}
		cmdAnnounce(ctx, client, args[1], strings.Join(args[2:], " "))
	case "identity":
		cmdIdentity(ctx, client, *jsonFlag)
	case "agents":
		cmdAgents(ctx, client, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pchatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show daemon transport status")
	fmt.Fprintln(os.Stderr, "  conversations        List local conversations")
	fmt.Fprintln(os.Stderr, "  peers                List conversations known to the daemon")
	fmt.Fprintln(os.Stderr, "  messages <peer>      Show messages for a conversation")
	fmt.Fprintln(os.Stderr, "  send <peer> <text>   Send a message")
	fmt.Fprintln(os.Stderr, "  fetch <peer>         Refresh a conversation from the daemon")
	fmt.Fprintln(os.Stderr, "  read <peer>          Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  presence <peer>      Show a peer's presence")
	fmt.Fprintln(os.Stderr, "  announce <status>    Broadcast own presence")
	fmt.Fprintln(os.Stderr, "  identity             Show own identity")
	fmt.Fprintln(os.Stderr, "  agents               List known agents")
}

// openStore opens the session database read-write in WAL mode. The sync
// process holds the session lock; the CLI shares the database through WAL
// without taking it.
func openStore(sessionName string) *store.DB {
	db, err := store.Open(session.DBPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return db
}

func cmdStatus(ctx context.Context, client *daemon.Client, jsonOut bool) {
	if !client.IsAlive(ctx) {
		fmt.Println("Daemon: unreachable")
		os.Exit(1)
	}
	diag, err := client.TransportStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(diag)
		return
	}
	fmt.Println("Daemon: reachable")
	for k, v := range diag {
		fmt.Printf("%s: %v\n", k, v)
	}
}

func cmdConversations(sessionName string, jsonOut bool) {
	db := openStore(sessionName)
	defer func() { _ = db.Close() }()

	convs, err := db.ListConversations()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, c := range convs {
		marker := " "
		if c.UnreadCount > 0 {
			marker = "*"
		}
		fmt.Printf("%s %-24s %3d unread  %s\n", marker, c.DisplayName, c.UnreadCount, c.LastMessage)
	}
}

func cmdPeers(ctx context.Context, client *daemon.Client, jsonOut bool) {
	convs, err := client.ListConversations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, c := range convs {
		online := " "
		if c.IsOnline {
			online = "+"
		}
		fmt.Printf("%s %-24s %s\n", online, c.DisplayName, c.LastMessage)
	}
}

func cmdMessages(sessionName, peerID string, jsonOut bool) {
	db := openStore(sessionName)
	defer func() { _ = db.Close() }()

	msgs, err := db.ListMessages(peerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		dir := "<-"
		if m.IsOutbound {
			dir = "->"
		}
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		fmt.Printf("%s %s [%s] %s\n", ts, dir, m.DeliveryStatus, m.Content)
	}
}

func cmdSend(ctx context.Context, client *daemon.Client, sessionName, peerID, text string) {
	res, err := client.SendMessage(ctx, peerID, text, "", 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	msgID := res.MessageID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	status := store.StatusSent
	if res.Delivered {
		status = store.StatusDelivered
	}

	db := openStore(sessionName)
	defer func() { _ = db.Close() }()
	msg := &store.Message{
		ID:             msgID,
		PeerID:         peerID,
		Content:        text,
		Timestamp:      time.Now().UnixMilli(),
		IsOutbound:     true,
		DeliveryStatus: status,
	}
	if _, err := db.PutMessage(msg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	conv, err := db.GetConversation(peerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if conv == nil {
		conv = &store.Conversation{PeerID: peerID, DisplayName: peerID}
	}
	if msg.Timestamp >= conv.LastMessageTime {
		conv.LastMessage = msg.Content
		conv.LastMessageTime = msg.Timestamp
		conv.LastDeliveryStatus = msg.DeliveryStatus
	}
	if err := db.UpsertConversation(conv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent %s\n", msgID)
}

func cmdFetch(ctx context.Context, client *daemon.Client, sessionName, peerID string) {
	wire, err := client.ConversationMessages(ctx, peerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	msgs := make([]*store.Message, 0, len(wire))
	for _, w := range wire {
		m := &store.Message{
			ID:             w.ID,
			PeerID:         w.PeerID,
			Content:        w.Content,
			Timestamp:      w.Timestamp.UnixMilli(),
			IsOutbound:     w.IsOutbound,
			DeliveryStatus: store.DeliveryStatus(w.DeliveryStatus),
			IsEncrypted:    w.IsEncrypted,
			Reactions:      w.Reactions,
			IsAgent:        w.IsAgent,
		}
		if m.PeerID == "" {
			m.PeerID = peerID
		}
		if m.DeliveryStatus == "" {
			m.DeliveryStatus = store.StatusSent
		}
		if w.ReplyToID != nil {
			m.ReplyToID = *w.ReplyToID
		}
		if w.SenderName != nil {
			m.SenderName = *w.SenderName
		}
		msgs = append(msgs, m)
	}

	db := openStore(sessionName)
	defer func() { _ = db.Close() }()
	inserted, err := db.PutMessages(msgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Fetched %d messages (%d new)\n", len(msgs), inserted)
}

func cmdRead(sessionName, peerID string) {
	db := openStore(sessionName)
	defer func() { _ = db.Close() }()

	if err := db.MarkRead(peerID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Marked %s read\n", peerID)
}

func cmdPresence(ctx context.Context, client *daemon.Client, peerID string, jsonOut bool) {
	presence, err := client.PeerPresence(ctx, peerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(presence)
		return
	}
	for k, v := range presence {
		fmt.Printf("%s: %v\n", k, v)
	}
}

func cmdAnnounce(ctx context.Context, client *daemon.Client, status, note string) {
	if err := client.BroadcastPresence(ctx, status, note); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Presence set to %s\n", status)
}

func cmdIdentity(ctx context.Context, client *daemon.Client, jsonOut bool) {
	identity, err := client.Identity(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(identity)
		return
	}
	for k, v := range identity {
		fmt.Printf("%s: %v\n", k, v)
	}
}

func cmdAgents(ctx context.Context, client *daemon.Client, jsonOut bool) {
	agents, err := client.ListAgents(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(agents)
		return
	}
	for _, a := range agents {
		if name, ok := a["name"]; ok {
			fmt.Printf("%v\n", name)
			continue
		}
		outputJSON(a)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
