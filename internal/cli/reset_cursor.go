package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/vietddude/facilitator/internal/control"
	"github.com/vietddude/facilitator/internal/core/cursor"
	"github.com/vietddude/facilitator/internal/core/domain"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [contract] [entity_type]",
	Short: "Delete the cursor of one stream so it is re-ingested from the start",
	Long: `Delete the cursor of one stream so it is re-ingested from the start.
Handlers are idempotent, replayed records leave state unchanged.`,
	Args: cobra.ExactArgs(2),
	Run:  runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func parseStream(contract, entity string) (common.Address, domain.EntityType, error) {
	if !common.IsHexAddress(contract) {
		return common.Address{}, "", fmt.Errorf("invalid contract address: %s", contract)
	}
	et := domain.EntityType(entity)
	if !et.Known() {
		return common.Address{}, "", fmt.Errorf("%w: %s", cursor.ErrUnknownEntityType, entity)
	}
	return common.HexToAddress(contract), et, nil
}

func runResetCursor(cmd *cobra.Command, args []string) {
	contract, entity, err := parseStream(args[0], args[1])
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("reset-cursor needs database.url, the in-memory store holds no cursors")
		os.Exit(1)
	}

	ctx := context.Background()
	store, _, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	if err := cursor.NewManager(store.Cursors()).Reset(ctx, contract, entity); err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset cursor for %s %s\n", contract.Hex(), entity)
}
