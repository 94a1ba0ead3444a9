package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/config"
	"github.com/rcliao/fieldsync/internal/mission"
	"github.com/rcliao/fieldsync/internal/model"
)

func init() {
	missionCmd := &cobra.Command{
		Use:   "mission",
		Short: "Plan, commit and abort navigation missions",
	}

	planCmd := &cobra.Command{
		Use:   "plan <lat,lng>",
		Short: "Show candidate routes to a destination",
		Long:  "Request candidate routes from this unit's position. With --select the chosen candidate is committed and broadcast.",
		Args:  cobra.ExactArgs(1),
		Run:   runMissionPlan,
	}
	planCmd.Flags().Int("select", -1, "Commit candidate at this index")
	planCmd.Flags().String("at", "", "Origin as lat,lng (default: current position)")

	goCmd := &cobra.Command{
		Use:   "go <lat,lng>",
		Short: "Commit the first candidate route to a destination",
		Args:  cobra.ExactArgs(1),
		Run:   runMissionGo,
	}
	goCmd.Flags().String("at", "", "Origin as lat,lng (default: current position)")

	abortCmd := &cobra.Command{
		Use:   "abort",
		Short: "Clear the committed mission and broadcast the cleared state",
		Run:   runMissionAbort,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the committed mission",
		Run:   runMissionShow,
	}

	missionCmd.AddCommand(planCmd, goCmd, abortCmd, showCmd)
	RootCmd.AddCommand(missionCmd)
}

func parseDest(raw string) model.LatLng {
	dest, err := config.ParseLatLng(raw)
	if err != nil {
		exitErr("destination", err)
	}
	return dest
}

// reportMissionErr exits for hard failures. A commit that could not be
// broadcast is only a warning: it goes out with the next push.
func reportMissionErr(op string, err error) {
	if errors.Is(err, mission.ErrNotPublished) {
		newLogger().Warn("mission committed but not broadcast", "error", err)
		return
	}
	exitErr(op, err)
}

func runMissionPlan(cmd *cobra.Command, args []string) {
	dest := parseDest(args[0])
	sel, _ := cmd.Flags().GetInt("select")

	rt, err := newRuntime(atFlag(cmd))
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	ctx := cmd.Context()
	if err := rt.restore(ctx); err != nil {
		exitErr("restore", err)
	}

	candidates, err := rt.ctrl.Plan(ctx, rt.origin(ctx), dest)
	if err != nil {
		exitErr("plan", err)
	}

	if sel < 0 {
		if textOutput() {
			for i, c := range candidates {
				fmt.Printf("[%d] %-9s %s", i, c.Label, model.FormatDistance(c.DistanceMeters))
				if c.Duration > 0 {
					fmt.Printf("  %s", c.Duration.Round(time.Second))
				}
				fmt.Println()
			}
			return
		}
		printJSON(rt.ctrl.Status())
		return
	}

	if err := rt.ctrl.Select(sel); err != nil {
		exitErr("select", err)
	}
	if _, err := rt.ctrl.Confirm(ctx); err != nil {
		reportMissionErr("confirm", err)
	}
	printJSON(rt.ctrl.Status())
}

func runMissionGo(cmd *cobra.Command, args []string) {
	dest := parseDest(args[0])

	rt, err := newRuntime(atFlag(cmd))
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	ctx := cmd.Context()
	if err := rt.restore(ctx); err != nil {
		exitErr("restore", err)
	}
	if _, err := rt.ctrl.PlanAndCommit(ctx, rt.origin(ctx), dest); err != nil {
		reportMissionErr("mission", err)
	}
	printJSON(rt.ctrl.Status())
}

func runMissionAbort(cmd *cobra.Command, args []string) {
	rt, err := newRuntime(nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	ctx := cmd.Context()
	if err := rt.restore(ctx); err != nil {
		exitErr("restore", err)
	}
	if err := rt.ctrl.Abort(ctx); err != nil {
		reportMissionErr("abort", err)
	}
	printJSON(rt.ctrl.Status())
}

func runMissionShow(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	u, err := s.GetUnit(cmd.Context(), selfUnitID())
	if err != nil {
		exitErr("mission", err)
	}
	m := u.Mission()
	if m == nil {
		if textOutput() {
			fmt.Println("no mission")
			return
		}
		printJSON(map[string]any{"mission": nil})
		return
	}
	if textOutput() {
		fmt.Printf("target %s, %d points, %s\n", m.Target, len(m.RoutePath), model.FormatDistance(m.RoutePath.LengthMeters()))
		return
	}
	printJSON(map[string]any{"mission": m})
}
