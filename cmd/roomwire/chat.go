package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/pkg/client"
)

func chatCmd() *cobra.Command {
	var (
		server   string
		room     string
		username string
		avatar   string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a chat room interactively",
		Long: `Join a chat room and exchange messages from the terminal.

Lines you type are sent as messages. Slash commands control the rest:

  /edit <id> <text>   Edit one of your messages
  /delete <id>        Ask to delete a message (confirm with /confirm)
  /confirm            Confirm the pending delete
  /cancel             Cancel the pending delete or edit
  /react <id> <emoji> Toggle a reaction
  /read <id>          Mark a message as read
  /who                List users currently online
  /quit               Leave the room

Flags override the ROOMWIRE_* environment variables.

Examples:
  roomwire chat --server ws://localhost:8000 --room general --username alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(server, room, username, avatar, verbose)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "S", "", "Chat server URL (ws://, wss://, http:// or https://)")
	cmd.Flags().StringVarP(&room, "room", "r", "", "Room to join")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username to chat as")
	cmd.Flags().StringVarP(&avatar, "avatar", "a", "", "Avatar URL to attach to messages")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log connection events")

	return cmd
}

func runChat(server, room, username, avatar string, verbose bool) error {
	cfg, err := client.ConfigFromEnv()
	if err != nil {
		return err
	}
	if server != "" {
		cfg.ServerURL = server
	}
	if room != "" {
		cfg.Room = room
	}
	if username != "" {
		cfg.Username = username
	}
	if avatar != "" {
		cfg.AvatarURL = avatar
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	s, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	printer := newChatPrinter(s, cfg.Username)
	s.OnChange(printer.flush)
	s.OnStateChange(func(state client.State) {
		switch state {
		case client.StateOpen:
			success("connected to %s as %s", cfg.Room, cfg.Username)
		case client.StateReconnecting:
			warn("connection lost, reconnecting")
		}
	})
	s.Connect()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := s.SendMessage(line); err != nil {
				errorMsg("send: %s", err)
			}
			continue
		}
		if quit := runChatCommand(s, line); quit {
			return nil
		}
	}
	return scanner.Err()
}

// runChatCommand executes one slash command and reports whether to quit.
func runChatCommand(s *client.Session, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q":
		return true
	case "/edit":
		if len(args) < 2 {
			warn("usage: /edit <id> <text>")
			return false
		}
		if !s.StartEdit(args[0]) {
			warn("no message with id %s", args[0])
			return false
		}
		if err := s.SendMessage(strings.Join(args[1:], " ")); err != nil {
			errorMsg("edit: %s", err)
		}
	case "/delete":
		if len(args) != 1 {
			warn("usage: /delete <id>")
			return false
		}
		s.RequestDelete(args[0])
		info("deleting %s; /confirm to proceed, /cancel to abort", args[0])
	case "/confirm":
		if s.PendingDelete() == "" {
			warn("nothing to confirm")
			return false
		}
		s.ConfirmDelete()
	case "/cancel":
		s.CancelDelete()
		s.CancelEdit()
	case "/react":
		if len(args) != 2 {
			warn("usage: /react <id> <emoji>")
			return false
		}
		if err := s.AddReaction(args[0], args[1]); err != nil {
			errorMsg("react: %s", err)
		}
	case "/read":
		if len(args) != 1 {
			warn("usage: /read <id>")
			return false
		}
		if err := s.MarkRead(args[0]); err != nil {
			errorMsg("read: %s", err)
		}
	case "/who":
		online := s.Store().Online()
		if len(online) == 0 {
			info("nobody else is online")
			return false
		}
		info("online: %s", strings.Join(online, ", "))
	default:
		warn("unknown command %s", cmd)
	}
	return false
}

// chatPrinter renders store changes incrementally: new messages as they
// land, plus the typing indicator.
type chatPrinter struct {
	session *client.Session
	self    string

	printed    map[string]bool
	lastTyping string
}

func newChatPrinter(s *client.Session, self string) *chatPrinter {
	return &chatPrinter{session: s, self: self, printed: make(map[string]bool)}
}

func (p *chatPrinter) flush() {
	store := p.session.Store()
	for _, m := range store.Messages() {
		key := m.ID + "\x00" + m.Content
		if p.printed[key] {
			continue
		}
		p.printed[key] = true
		marker := ""
		if m.Pending {
			marker = " (sending)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.ID, m.Username, m.Content, marker)
	}

	if typing := store.Typing(); typing != p.lastTyping {
		p.lastTyping = typing
		if typing != "" {
			info("%s is typing…", typing)
		}
	}
}
