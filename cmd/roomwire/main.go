package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬─┐┌─┐┌─┐┌┬┐┬ ┬┬┬─┐┌─┐
  ├┬┘│ ││ ││││││││├┬┘├┤
  ┴└─└─┘└─┘┴ ┴└┴┘┴┴└─└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomwire",
		Short: "Terminal client and reference server for roomwire chat",
		Long: `Roomwire is a real-time chat toolkit.

The client maintains a resilient WebSocket session to a chat room:
it reconnects automatically, replays undelivered messages, and keeps
a local view of messages, presence, and typing state.

Commands:
  chat     Join a room interactively
  users    Show the participant roster of a room
  serve    Run the reference chat server
  version  Print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		chatCmd(),
		usersCmd(),
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the roomwire ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
