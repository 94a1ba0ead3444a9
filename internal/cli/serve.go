package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/chat"
	"github.com/rcliao/fieldsync/internal/feed"
	"github.com/rcliao/fieldsync/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP API and websocket feed",
		Run:   runServe,
	}

	cmd.Flags().String("listen", "", "Listen address (default: $FIELDSYNC_LISTEN or :8080)")
	cmd.Flags().Bool("purge", true, "Also run the message purge loop")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	c := loadConfig()
	addr, _ := cmd.Flags().GetString("listen")
	if addr == "" {
		addr = c.ListenAddr
	}
	purge, _ := cmd.Flags().GetBool("purge")
	logger := newLogger()

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	poller := feed.NewPoller(s, feed.Options{Interval: c.FeedInterval, Logger: logger})
	log, err := chat.NewLog(chat.Options{Store: s, Feed: poller, Logger: logger, Retention: c.Retention})
	if err != nil {
		exitErr("chat", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if purge {
		go log.RunPurge(ctx, c.PurgeInterval)
	}

	srv := server.New(server.Options{
		Store:          s,
		Chat:           log,
		Feed:           poller,
		Logger:         logger,
		AllowedOrigins: c.AllowedOrigins,
	})
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		exitErr("serve", err)
	}
}
