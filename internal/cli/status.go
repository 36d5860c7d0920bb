package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/depwatch/internal/control"
	"github.com/vietddude/depwatch/internal/core/domain"
	"github.com/vietddude/depwatch/internal/infra/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last persisted snapshot",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, closer, err := control.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = closer.Close()
	}()

	data, err := store.Get(ctx, cfg.Monitor.SnapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Println("No snapshot stored yet")
		return
	}
	if err != nil {
		slog.Error("Failed to read snapshot", "error", err)
		os.Exit(1)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Error("Failed to decode snapshot", "error", err)
		os.Exit(1)
	}
	printSnapshot(snap)
}

func printSnapshot(snap domain.Snapshot) {
	fmt.Printf("Overall: %s (generated %s)\n\n", snap.OverallStatus, snap.GeneratedAt.Format(time.RFC3339))

	ids := make([]string, 0, len(snap.Dependencies))
	for id := range snap.Dependencies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tCATEGORY\tCRITICALITY\tSTATUS\tCIRCUIT\tUPTIME\tAVG MS")
	for _, id := range ids {
		r := snap.Dependencies[id]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%.0f\n",
			r.ID, r.Category, r.Criticality, r.State.Status, r.Circuit.State, r.Uptime, r.State.AverageResponseTimeMs)
	}
	_ = w.Flush()
}
