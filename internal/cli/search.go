package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/geocode"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search places by name",
		Long:  "Search places through the geocoding service. With --go N the Nth result becomes the mission destination and is committed at once.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 5, "Max results")
	cmd.Flags().Int("go", -1, "Commit a mission to the result at this index")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")
	limit, _ := cmd.Flags().GetInt("limit")
	goIdx, _ := cmd.Flags().GetInt("go")

	c := loadConfig()
	searcher := geocode.NewNominatimSearcher(c.GeocoderURL, c.GeocoderRegion)

	ctx := cmd.Context()
	places, err := searcher.Search(ctx, query, limit)
	if err != nil {
		exitErr("search", err)
	}

	if goIdx < 0 {
		if textOutput() {
			for i, p := range places {
				fmt.Printf("[%d] %s  (%s)\n", i, p.DisplayName, p.Position)
			}
			return
		}
		printJSON(places)
		return
	}

	if goIdx >= len(places) {
		exitErr("search", fmt.Errorf("result %d not found (%d results)", goIdx, len(places)))
	}
	dest := places[goIdx].Position

	rt, err := newRuntime(nil)
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	if err := rt.restore(ctx); err != nil {
		exitErr("restore", err)
	}
	if _, err := rt.ctrl.PlanAndCommit(ctx, rt.origin(ctx), dest); err != nil {
		reportMissionErr("mission", err)
	}
	printJSON(rt.ctrl.Status())
}
