package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/session"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the unit: broadcast position, follow peers and chat",
		Long:  "Start the long-lived session. Position is pushed every push interval, peers and messages are followed through the change feed, and expired messages are purged. A snapshot is printed every --every.",
		Run:   runRun,
	}

	cmd.Flags().Duration("every", 10*time.Second, "Snapshot print interval (0 disables)")
	cmd.Flags().String("at", "", "Fixed position as lat,lng (default: configured position source)")

	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	every, _ := cmd.Flags().GetDuration("every")

	rt, err := newRuntime(atFlag(cmd))
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	sess, err := session.New(session.Options{
		Broadcaster:   rt.bc,
		Controller:    rt.ctrl,
		Chat:          rt.chat,
		PurgeInterval: rt.cfg.PurgeInterval,
		Logger:        rt.logger,
	})
	if err != nil {
		exitErr("session", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	var tick <-chan time.Time
	if every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case err := <-done:
			if err != nil {
				exitErr("run", err)
			}
			return
		case <-tick:
			snap := sess.Snapshot(rt.cfg.ActiveWindow)
			if textOutput() {
				printSnapshotText(snap)
				continue
			}
			printJSON(snap)
		}
	}
}

func printSnapshotText(snap session.Snapshot) {
	st := snap.Status
	state := "ONLINE"
	if !st.Online {
		state = "DEGRADED"
	}
	fmt.Printf("== %s %s  %s  peers=%d  mission=%s\n",
		snap.At.Local().Format("15:04:05"), st.UnitID, state, len(snap.Peers), snap.Mission.State)
	for _, p := range snap.Peers {
		fmt.Printf("   %-12s %-9s %-8s %s ago\n", p.UnitID, p.UnitType, p.Distance, p.Age)
	}
	for _, m := range snap.Messages {
		fmt.Printf("   [%s] %s\n", m.UnitID, m.Content)
	}
}
