package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/internal/chatserver"
)

func serveCmd() *cobra.Command {
	var (
		addr     string
		s3Bucket string
		s3Prefix string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference chat server",
		Long: `Run the in-memory reference chat server.

The server hosts rooms over WebSocket at /ws/chat/{room}/ and serves
the roster at /api/rooms/{room}/users, avatars at /api/avatars/{user},
Prometheus metrics at /metrics, and a health check at /healthz.

Rooms and messages live in memory only. Avatars are kept in memory
too unless an S3 bucket is configured.

Examples:
  roomwire serve
  roomwire serve --addr :9000
  roomwire serve --s3-bucket my-avatars --s3-prefix chat/avatars`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, addr, s3Bucket, s3Prefix, verbose)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "l", ":8000", "Address to listen on")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket for avatar storage (default in-memory)")
	cmd.Flags().StringVar(&s3Prefix, "s3-prefix", "", "Key prefix inside the S3 bucket")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	return cmd
}

func runServe(cmd *cobra.Command, addr, s3Bucket, s3Prefix string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := chatserver.Options{Logger: logger}
	if s3Bucket != "" {
		avatars, err := chatserver.NewS3Avatars(ctx, s3Bucket, s3Prefix)
		if err != nil {
			return err
		}
		opts.Avatars = avatars
		info("avatars stored in s3://%s/%s", s3Bucket, s3Prefix)
	}

	printBanner()
	info("listening on %s", addr)
	return chatserver.New(opts).Run(ctx, addr)
}
