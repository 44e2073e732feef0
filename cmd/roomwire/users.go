package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/pkg/client"
	"github.com/roomwire/roomwire/pkg/roster"
)

func usersCmd() *cobra.Command {
	var (
		server string
		room   string
	)

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Show the participant roster of a room",
		Long: `Fetch and print the participant roster of a room.

Flags override the ROOMWIRE_* environment variables.

Examples:
  roomwire users --server http://localhost:8000 --room general`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsers(cmd.Context(), server, room)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "S", "", "Chat server URL")
	cmd.Flags().StringVarP(&room, "room", "r", "", "Room to inspect")

	return cmd
}

func runUsers(ctx context.Context, server, room string) error {
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
	if cfg.ServerURL == "" {
		return client.ErrNoServer
	}
	if cfg.Room == "" {
		return client.ErrNoRoom
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	users, err := roster.New(cfg.ServerURL, nil).Fetch(ctx, cfg.Room)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		info("room %q has no participants", cfg.Room)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tSTATUS\tLAST SEEN")
	for _, u := range users {
		lastSeen := ""
		if !u.Online() && !u.LastSeen.IsZero() {
			lastSeen = u.LastSeen.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.Username, u.Status, lastSeen)
	}
	return w.Flush()
}
