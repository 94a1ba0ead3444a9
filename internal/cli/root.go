// Package cli implements the fieldsync CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/auth"
	"github.com/rcliao/fieldsync/internal/config"
	"github.com/rcliao/fieldsync/internal/store"
)

var (
	dbPath     string
	unitFlag   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Presence, missions and squad chat for field units",
	Long:  "Shares unit positions and navigation missions between field units and runs a short-lived group chat. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $FIELDSYNC_DB or ~/.fieldsync/fieldsync.db)")
	RootCmd.PersistentFlags().StringVarP(&unitFlag, "unit", "u", "", "Unit id (default: $FIELDSYNC_UNIT_ID or derived from $FIELDSYNC_EMAIL)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

var (
	cfgOnce sync.Once
	cfg     config.Config
	cfgErr  error
)

func loadConfig() config.Config {
	cfgOnce.Do(func() {
		cfg, cfgErr = config.Load()
		if cfgErr != nil {
			return
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if unitFlag != "" {
			cfg.Identity.UnitOverride = unitFlag
		}
	})
	if cfgErr != nil {
		exitErr("config", cfgErr)
	}
	return cfg
}

func getDBPath() string {
	return loadConfig().DBPath
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func identity() auth.Identity {
	return loadConfig().Identity
}

// selfUnitID returns the local unit id or exits.
func selfUnitID() string {
	id, err := identity().UnitID()
	if err != nil {
		exitErr("identity", fmt.Errorf("%w: set --unit, FIELDSYNC_UNIT_ID or FIELDSYNC_EMAIL", err))
	}
	return id
}

func newLogger() *slog.Logger {
	c := loadConfig()
	return config.NewLogger(os.Stderr, c.LogLevel, c.LogFormat)
}

func textOutput() bool {
	return formatFlag == "text"
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
