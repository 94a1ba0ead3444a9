package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/auth"
	"github.com/rcliao/fieldsync/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "type <infantry|driver|soldier>",
		Short: "Set a unit's type",
		Long:  "Set this unit's type, or with --target another unit's type (admin only).",
		Args:  cobra.ExactArgs(1),
		Run:   runType,
	}

	cmd.Flags().String("target", "", "Unit to change (default: this unit)")

	RootCmd.AddCommand(cmd)
}

func runType(cmd *cobra.Command, args []string) {
	self := selfUnitID()
	target, _ := cmd.Flags().GetString("target")
	if target == "" {
		target = self
	}
	if target != self {
		if err := auth.RequireAdmin(identity()); err != nil {
			exitErr("type", fmt.Errorf("changing %s: %w", target, err))
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	u, err := s.SetUnitType(cmd.Context(), store.SetUnitTypeParams{
		UnitID:   target,
		UnitType: args[0],
		At:       time.Now(),
	})
	if err != nil {
		exitErr("type", err)
	}
	printJSON(u)
}
