package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/fieldsync/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Merge another node's unit records into this database",
		Long: `Merge unit records from an export snapshot (a file, or stdin when no file or "-" is given).
Each record goes through the same last-writer-wins rule as a live push, so a record only
replaces a missing or older row. Messages in the snapshot are ignored; the chat log is
ephemeral and only grows through send.`,
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

type importResult struct {
	OK         bool      `json:"ok"`
	ExportedAt time.Time `json:"exported_at"`
	Units      int       `json:"units"`
	Imported   int       `json:"imported"`
	Skipped    int       `json:"skipped"`
}

func runImport(cmd *cobra.Command, args []string) {
	var in io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open snapshot", err)
		}
		defer f.Close()
		in = f
	}

	var snap store.Snapshot
	if err := json.NewDecoder(in).Decode(&snap); err != nil {
		exitErr("parse snapshot", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	imported, err := s.Import(cmd.Context(), &snap)
	if err != nil {
		exitErr("import", err)
	}

	res := importResult{
		OK:         true,
		ExportedAt: snap.ExportedAt,
		Units:      len(snap.Units),
		Imported:   imported,
		Skipped:    len(snap.Units) - imported,
	}
	if textOutput() {
		fmt.Printf("merged %d of %d unit records (%d older or unchanged), snapshot from %s\n",
			res.Imported, res.Units, res.Skipped, res.ExportedAt.Local().Format(time.DateTime))
		return
	}
	printJSON(res)
}
