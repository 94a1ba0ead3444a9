package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/chat"
	"github.com/rcliao/fieldsync/internal/model"
)

func init() {
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Squad chat",
	}

	sendCmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message",
		Long:  "Send a message. Content can be a positional arg or piped via stdin.",
		Run:   runChatSend,
	}

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent messages",
		Run:   runChatLog,
	}
	logCmd.Flags().IntP("limit", "l", chat.DefaultFetchLimit, "Max messages")
	logCmd.Flags().Bool("follow", false, "Keep printing new messages")

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete messages older than the retention period",
		Run:   runChatPurge,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the chat for every unit (admin only)",
		Run:   runChatClear,
	}

	forgetCmd := &cobra.Command{
		Use:   "forget",
		Short: "Hide the current history on this device only",
		Run:   runChatForget,
	}

	chatCmd.AddCommand(sendCmd, logCmd, purgeCmd, clearCmd, forgetCmd)
	RootCmd.AddCommand(chatCmd)
}

func runChatSend(cmd *cobra.Command, args []string) {
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	rt, err := newRuntime(nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	msg, err := rt.chat.Send(cmd.Context(), rt.bc.UnitID(), content)
	if err != nil {
		exitErr("send", err)
	}
	printJSON(msg)
}

func printMessage(m model.Message) {
	if textOutput() {
		fmt.Printf("%s [%s] %s\n", m.CreatedAt.Local().Format("15:04:05"), m.UnitID, m.Content)
		return
	}
	printJSON(m)
}

func runChatLog(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	follow, _ := cmd.Flags().GetBool("follow")

	rt, err := newRuntime(nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	if !follow {
		msgs, err := rt.chat.FetchRecent(cmd.Context(), limit)
		if err != nil {
			exitErr("log", err)
		}
		if textOutput() {
			for _, m := range msgs {
				printMessage(m)
			}
			return
		}
		printJSON(msgs)
		return
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	msgs, entries, err := rt.chat.Follow(ctx, limit)
	if err != nil {
		exitErr("log", err)
	}
	for _, m := range msgs {
		printMessage(m)
	}
	for e := range entries {
		if e.Kind == chat.EntryClear {
			fmt.Println("--- chat cleared ---")
			continue
		}
		printMessage(e.Message)
	}
}

func runChatPurge(cmd *cobra.Command, args []string) {
	rt, err := newRuntime(nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	n, err := rt.chat.PurgeExpired(cmd.Context())
	if err != nil {
		exitErr("purge", err)
	}
	fmt.Printf(`{"ok":true,"purged":%d}`+"\n", n)
}

func runChatClear(cmd *cobra.Command, args []string) {
	rt, err := newRuntime(nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	if err := rt.chat.AdminClear(cmd.Context(), identity()); err != nil {
		exitErr("clear", err)
	}
	fmt.Println(`{"ok":true}`)
}

func runChatForget(cmd *cobra.Command, args []string) {
	rt, err := newRuntime(nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	if err := rt.chat.ClearLocal(); err != nil {
		exitErr("forget", err)
	}
	printJSON(map[string]any{"ok": true, "last_cleared": rt.chat.LastCleared()})
}
