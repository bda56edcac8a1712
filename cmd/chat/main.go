// Command chat is a line-oriented terminal client for the chat server.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chatapp/client"
	"chatapp/config"
	"chatapp/logging"
	"chatapp/models"
)

func main() {
	_ = config.LoadDotEnv()

	server := flag.String("server", envOr("CHAT_SERVER", "http://localhost:8080"), "chat server base URL")
	username := flag.String("user", os.Getenv("CHAT_USER"), "username or email")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "password")
	email := flag.String("email", "", "email, used with -signup")
	signup := flag.Bool("signup", false, "create the account before signing in")
	logLevel := flag.String("log-level", "warn", "client log level")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("-user and -password are required")
	}

	logger, err := logging.New(*logLevel, "console")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewHTTPClient(*server, 15*time.Second)
	var me *models.UserResponse
	if *signup {
		me, err = api.Signup(ctx, *username, *email, *password)
	} else {
		me, err = api.Login(ctx, *username, *password)
	}
	if err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}
	fmt.Printf("Signed in as %s\n", me.Username)

	t := newTerminal(me.ID)
	store := client.NewStore(api, me.ID, client.NotifierFunc(t.notify), logger.Named("store"))
	store.OnChange(func() { t.render(store.Snapshot()) })

	sub := client.NewSubscription(api.WebSocketURL(), api.Token(), store, logger.Named("realtime"))
	sub.OnConnect = func(ctx context.Context) {
		if err := store.LoadRoster(ctx); err != nil {
			logger.Warn("roster refresh failed", zap.Error(err))
		}
	}

	go func() {
		if err := sub.Run(ctx); err != nil {
			t.notify(fmt.Sprintf("realtime channel stopped: %v", err))
			stop()
		}
	}()

	go t.readCommands(ctx, stop, store, sub)
	<-ctx.Done()
}

// terminal prints store changes and reads commands from stdin.
type terminal struct {
	selfID string

	mu      sync.Mutex
	printed map[string]struct{}
	peer    string
	names   map[string]string
}

func newTerminal(selfID string) *terminal {
	return &terminal{
		selfID:  selfID,
		printed: make(map[string]struct{}),
		names:   make(map[string]string),
	}
}

func (t *terminal) notify(msg string) {
	fmt.Printf("! %s\n", msg)
}

func (t *terminal) render(snap client.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range snap.Roster {
		t.names[entry.ID] = entry.Username
	}
	if snap.ActivePeer != t.peer {
		t.peer = snap.ActivePeer
		t.printed = make(map[string]struct{})
		if t.peer != "" {
			fmt.Printf("--- conversation with %s ---\n", t.nameLocked(t.peer))
		}
	}

	for _, msg := range snap.Messages {
		if _, ok := t.printed[msg.ID]; ok {
			continue
		}
		t.printed[msg.ID] = struct{}{}
		fmt.Println(t.formatLocked(msg))
	}
	if t.peer != "" && snap.Typing[t.peer] {
		fmt.Printf("(%s is typing)\n", t.nameLocked(t.peer))
	}
}

func (t *terminal) formatLocked(msg models.Message) string {
	who := t.nameLocked(msg.SenderID)
	if msg.SenderID == t.selfID {
		who = "me"
	}
	parts := make([]string, 0, 4)
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, media := range [][2]string{{"image", msg.Image}, {"audio", msg.Audio}, {"video", msg.Video}} {
		if media[1] != "" {
			parts = append(parts, fmt.Sprintf("[%s %s]", media[0], media[1]))
		}
	}
	line := fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format("15:04"), who, strings.Join(parts, " "))
	if msg.SenderID == t.selfID && msg.IsRead {
		line += " (read)"
	}
	return line
}

func (t *terminal) nameLocked(id string) string {
	if name, ok := t.names[id]; ok {
		return name
	}
	return id
}

func (t *terminal) lookup(username string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, name := range t.names {
		if strings.EqualFold(name, username) {
			return id, true
		}
	}
	return "", false
}

func (t *terminal) readCommands(ctx context.Context, stop func(), store *client.Store, sub *client.Subscription) {
	defer stop()
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit":
			return
		case "/help":
			printHelp()
		case "/users":
			listUsers(store.Snapshot())
		case "/open":
			id, ok := t.lookup(arg)
			if !ok {
				t.notify(fmt.Sprintf("unknown user %q", arg))
				continue
			}
			// Failures reach the user through the store's notifier.
			_ = store.SelectPeer(ctx, id)
		case "/close":
			store.ClearSelection()
		case "/typing":
			if peer := store.ActivePeer(); peer != "" {
				if err := sub.SendTyping(peer, arg != "off"); err != nil {
					t.notify(fmt.Sprintf("typing not sent: %v", err))
				}
			}
		default:
			_, _ = store.SendMessage(ctx, models.SendPayload{Text: line})
		}
	}
}

func listUsers(snap client.Snapshot) {
	roster := append([]models.RosterEntry(nil), snap.Roster...)
	sort.Slice(roster, func(i, j int) bool { return roster[i].Username < roster[j].Username })
	for _, entry := range roster {
		status := "offline"
		if snap.Online[entry.ID] {
			status = "online"
		}
		line := fmt.Sprintf("  %-20s %s", entry.Username, status)
		if n := snap.Unread[entry.ID]; n > 0 {
			line += fmt.Sprintf("  (%d unread)", n)
		}
		fmt.Println(line)
	}
}

func printHelp() {
	fmt.Println("Commands: /users, /open <username>, /close, /typing [off], /quit. Any other line is sent to the open conversation.")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
