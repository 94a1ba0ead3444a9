package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/presence"
	"github.com/rcliao/fieldsync/internal/store"
)

func init() {
	unitCmd := &cobra.Command{
		Use:   "unit [unit_id]",
		Short: "Show one unit record (default: this unit)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runUnit,
	}

	unitsCmd := &cobra.Command{
		Use:   "units",
		Short: "List online peers, nearest first",
		Run:   runUnits,
	}
	unitsCmd.Flags().Duration("window", 0, "Presence window (default: $FIELDSYNC_ACTIVE_WINDOW, 60s)")
	unitsCmd.Flags().Bool("map", false, "Use the long map window instead of the active window")
	unitsCmd.Flags().Bool("all", false, "List every stored unit, online or not")

	RootCmd.AddCommand(unitCmd, unitsCmd)
}

func runUnit(cmd *cobra.Command, args []string) {
	var id string
	if len(args) > 0 {
		id = args[0]
	} else {
		id = selfUnitID()
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	u, err := s.GetUnit(cmd.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		exitErr("unit", fmt.Errorf("%s: %w", id, err))
	}
	if err != nil {
		exitErr("unit", err)
	}
	printJSON(u)
}

func runUnits(cmd *cobra.Command, args []string) {
	c := loadConfig()
	window, _ := cmd.Flags().GetDuration("window")
	useMap, _ := cmd.Flags().GetBool("map")
	all, _ := cmd.Flags().GetBool("all")
	switch {
	case window > 0:
	case useMap:
		window = c.MapWindow
	default:
		window = c.ActiveWindow
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	units, err := s.ListUnits(ctx, store.ListUnitsParams{})
	if err != nil {
		exitErr("units", err)
	}
	if all {
		printJSON(units)
		return
	}

	self, _ := identity().UnitID()
	var origin *model.LatLng
	if self != "" {
		if r, err := s.GetUnit(ctx, self); err == nil {
			p := r.Position
			origin = &p
		}
	}

	entries := presence.Listing(units, self, origin, time.Now(), window)
	if textOutput() {
		if len(entries) == 0 {
			fmt.Println("no units online")
			return
		}
		for _, e := range entries {
			mission := ""
			if e.HasMission {
				mission = "  [mission]"
			}
			fmt.Printf("%-12s %-9s %-8s %s ago%s\n", e.UnitID, e.UnitType, e.Distance, e.Age, mission)
		}
		return
	}
	printJSON(entries)
}
