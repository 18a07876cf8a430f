package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chatup-app/chatup/internal/profile"
	"github.com/chatup-app/chatup/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := store.Open(profile.DBPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open store for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	switch args[0] {
	case "chats":
		cmdChats(db, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatupctl messages <chat-id>")
			os.Exit(1)
		}
		cmdMessages(db, args[1], *jsonFlag)
	case "outbox":
		if len(args) >= 3 && args[1] == "cancel" {
			cmdOutboxCancel(db, args[2])
		} else {
			cmdOutbox(db, *jsonFlag)
		}
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatupctl search <query> [chat-id] [limit]")
			os.Exit(1)
		}
		chatID := ""
		limit := 20
		if len(args) >= 3 {
			chatID = args[2]
		}
		if len(args) >= 4 {
			if n, err := strconv.Atoi(args[3]); err == nil {
				limit = n
			}
		}
		cmdSearch(db, args[1], chatID, limit, *jsonFlag)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: chatupctl [-profile name] [-json] <command>

commands:
  chats                      list cached chats
  messages <chat-id>         list a chat's cached messages
  outbox                     list pending outbox entries
  outbox cancel <temp-id>    cancel a queued message
  search <query> [chat] [n]  full-text search over cached messages`)
}

func cmdChats(db *store.DB, asJSON bool) {
	chats, err := db.ListChats()
	if err != nil {
		fatal(err)
	}
	if asJSON {
		printJSON(chats)
		return
	}
	for _, c := range chats {
		name := c.Name
		if !c.IsGroup && name == "" {
			for _, u := range c.Users {
				name = u.Name
			}
		}
		preview := ""
		if c.LatestMessage != nil {
			preview = c.LatestMessage.Content
		}
		fmt.Printf("%-26s  %-20s  %s\n", c.ID, name, preview)
	}
}

func cmdMessages(db *store.DB, chatID string, asJSON bool) {
	msgs, err := db.ListMessages(chatID)
	if err != nil {
		fatal(err)
	}
	if asJSON {
		printJSON(msgs)
		return
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-16s  %s\n", ts, m.Sender.Name, m.Content)
	}
}

func cmdOutbox(db *store.DB, asJSON bool) {
	chatIDs, err := db.PendingChats()
	if err != nil {
		fatal(err)
	}
	var entries []store.OutboxEntry
	for _, chatID := range chatIDs {
		pending, err := db.PendingOutbox(chatID)
		if err != nil {
			fatal(err)
		}
		entries = append(entries, pending...)
	}
	if asJSON {
		printJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("outbox empty")
		return
	}
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-26s  %-26s  %s\n", ts, e.TempID, e.ChatID, e.Content)
	}
}

func cmdOutboxCancel(db *store.DB, tempID string) {
	if err := db.CancelOutbox(tempID); err != nil {
		fatal(err)
	}
	fmt.Printf("cancelled %s\n", tempID)
}

func cmdSearch(db *store.DB, query, chatID string, limit int, asJSON bool) {
	results, err := db.SearchMessages(query, chatID, limit)
	if err != nil {
		fatal(err)
	}
	if asJSON {
		printJSON(results)
		return
	}
	for _, r := range results {
		ts := time.UnixMilli(r.Message.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-26s  %s\n", ts, r.Message.ChatID, r.Snippet)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
