package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/config"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage/postgres"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import tasks from a legacy task list export",
	Args:  cobra.ExactArgs(1),
	Run:   runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// legacyExport mirrors the JSON shape of the old task list dump.
type legacyExport struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func runImport(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("import requires a database url in config")
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		slog.Error("Failed to read export file", "error", err)
		os.Exit(1)
	}

	var exports []legacyExport
	if err := json.Unmarshal(data, &exports); err != nil {
		slog.Error("Failed to parse export file", "error", err)
		os.Exit(1)
	}

	records := make([]storage.LegacyRecord, 0, len(exports))
	for _, e := range exports {
		records = append(records, storage.LegacyRecord{
			ID:          e.ID,
			Description: e.Description,
			Priority:    e.Priority,
			Status:      e.Status,
			CreatedAt:   e.CreatedAt,
			CompletedAt: e.CompletedAt,
		})
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := db.Migrate(cfg.Database); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	repo := postgres.NewTaskRepo(db)
	imported, err := repo.ImportLegacy(ctx, records)
	if err != nil {
		slog.Error("Import failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Imported %d of %d tasks\n", imported, len(records))
}
