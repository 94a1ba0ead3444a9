package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/config"
	"github.com/rcliao/fieldsync/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Broadcast this unit's position once",
		Long:  "Read the position (or take --at) and upsert the full unit record, keeping any committed mission.",
		Run:   runPush,
	}

	cmd.Flags().String("at", "", "Position as lat,lng (default: configured position source)")

	RootCmd.AddCommand(cmd)
}

// atFlag parses the optional --at flag.
func atFlag(cmd *cobra.Command) *model.LatLng {
	raw, _ := cmd.Flags().GetString("at")
	if raw == "" {
		return nil
	}
	p, err := config.ParseLatLng(raw)
	if err != nil {
		exitErr("--at", err)
	}
	return &p
}

func runPush(cmd *cobra.Command, args []string) {
	rt, err := newRuntime(atFlag(cmd))
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	ctx := cmd.Context()
	if err := rt.restore(ctx); err != nil {
		exitErr("restore", err)
	}
	if err := rt.bc.Push(ctx); err != nil {
		exitErr("push", err)
	}

	st := rt.bc.Status()
	if textOutput() {
		fmt.Printf("%s pushed at %s (%s)\n", st.UnitID, st.Position, st.LastPush.Format("15:04:05"))
		return
	}
	printJSON(st)
}
