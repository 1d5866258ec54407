package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/config"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and the most recent tasks",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("status requires a database url in config")
		os.Exit(1)
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

	repo := postgres.NewTaskRepo(db)

	stats, err := repo.Stats(ctx)
	if err != nil {
		slog.Error("Failed to query stats", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	for status, count := range stats {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, count)
	}
	_ = w.Flush()

	tasks, err := repo.GetAll(ctx, 10)
	if err != nil {
		slog.Error("Failed to query tasks", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tDESCRIPTION")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Priority, t.Status, clip(t.Description))
	}
	_ = w.Flush()

	due, err := repo.GetDueReminders(ctx)
	if err != nil {
		slog.Error("Failed to query due reminders", "error", err)
		os.Exit(1)
	}
	if len(due) == 0 {
		return
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DUE\tID\tDESCRIPTION")
	for _, t := range due {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", t.RunAt.Format("2006-01-02 15:04"), t.ID, clip(t.Description))
	}
	_ = w.Flush()
}

func clip(s string) string {
	if len(s) > 48 {
		return s[:48] + "..."
	}
	return s
}
