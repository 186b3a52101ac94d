package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/facilitator/internal/control"
	"github.com/vietddude/facilitator/internal/core/cursor"
	"github.com/vietddude/facilitator/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ingestion cursor of every stream",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, _, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	cursors, err := cursor.NewManager(store.Cursors()).List(ctx)
	if err != nil {
		slog.Error("Failed to list cursors", "error", err)
		os.Exit(1)
	}
	writeStatus(os.Stdout, cursors)
}

func writeStatus(out io.Writer, cursors []*domain.Cursor) {
	sort.Slice(cursors, func(i, j int) bool {
		if c := bytes.Compare(cursors[i].ContractAddress[:], cursors[j].ContractAddress[:]); c != 0 {
			return c < 0
		}
		return cursors[i].EntityType < cursors[j].EntityType
	})

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SIDE\tCONTRACT\tENTITY\tUTS\tUPDATED")
	for _, c := range cursors {
		side, _ := c.EntityType.ChainSide()
		updated := "-"
		if !c.UpdatedAt.IsZero() {
			updated = c.UpdatedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", side, c.ContractAddress.Hex(), c.EntityType, c.Timestamp, updated)
	}
	_ = w.Flush()
}
