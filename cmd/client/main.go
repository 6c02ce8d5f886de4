package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/FutureExcited/grok-desktop/internal/models"
	"github.com/FutureExcited/grok-desktop/internal/services"
	"github.com/FutureExcited/grok-desktop/internal/store"
	"github.com/google/uuid"
)

// A minimal terminal front end for the conversation store: reads lines from stdin, sends them
// through the relay, and prints the assistant's reply as it streams in.
func main() {
	endpoint := os.Getenv("GROK_DESKTOP_URL")
	if endpoint == "" {
		endpoint = "http://localhost:8080/api/chat"
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "grokdesktop")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "client.db"))
	if err != nil {
		log.Fatal(fmt.Errorf("error opening store: %w", err))
	}
	defer boltDB.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx := context.Background()

	features := store.NewFeatures(boltDB, logger)
	if err := features.Load(ctx); err != nil {
		log.Fatal(fmt.Errorf("error loading features state: %w", err))
	}
	history := store.NewHistory(boltDB, logger)
	if err := history.Load(ctx); err != nil {
		log.Fatal(fmt.Errorf("error loading history state: %w", err))
	}

	manager := store.NewManager(store.NewRelayClient(endpoint, logger), features, boltDB, logger)
	if err := manager.Load(ctx); err != nil {
		log.Fatal(fmt.Errorf("error loading conversations: %w", err))
	}

	conversationID := uuid.New().String()
	manager.InitConversation(ctx, conversationID, "")
	item := history.Add(ctx, "Terminal session", true)
	history.SetCurrent(ctx, item.ID)

	unsubscribe := manager.Subscribe(conversationID, printUpdates())
	defer unsubscribe()

	fmt.Println("Connected to", endpoint)
	fmt.Println("Type a message and press enter; /regen regenerates, ctrl-d quits.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "/regen" {
			manager.RegenerateMessage(ctx, conversationID)
		} else {
			manager.SendMessage(ctx, conversationID, line)
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		log.Fatal(fmt.Errorf("error reading input: %w", err))
	}
}

// printUpdates writes each streamed content increment as it arrives. The listener receives full
// message snapshots, so it prints only the part it has not shown yet.
func printUpdates() store.Listener {
	printed := map[string]int{}
	return func(_ string, msg models.Message) {
		if len(msg.Content) > printed[msg.ID] {
			fmt.Print(msg.Content[printed[msg.ID]:])
			printed[msg.ID] = len(msg.Content)
		}
		if !msg.IsStreaming {
			fmt.Println()
			delete(printed, msg.ID)
		}
	}
}
