package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/flowmux/internal/config"
	"github.com/jmylchreest/flowmux/internal/database"
	"github.com/jmylchreest/flowmux/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
	Long:  `Commands for listing, showing and pruning recorded runs.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded run in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the retention window",
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyListCmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	historyListCmd.Flags().String("status", "", "Only list runs with this status")
	historyPruneCmd.Flags().String("retention", "", "Override the configured retention window (e.g. 7d)")
}

// openHistory opens the configured database and prepares the repository.
func openHistory() (*history.Repository, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}

	repo, err := history.NewRepository(db.DB)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, func() { db.Close() }, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	limit, _ := cmd.Flags().GetInt("limit")
	status, _ := cmd.Flags().GetString("status")

	var runs []*history.Run
	if status != "" {
		runs, err = repo.ListByStatus(cmd.Context(), status, limit)
	} else {
		runs, err = repo.List(cmd.Context(), limit)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRUN\tSTATUS\tINPUT\tOUTPUTS\tDURATION\tFINISHED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.RunID, r.Status, r.Input, r.Outputs,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			r.FinishedAt.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	var run *history.Run
	if id, perr := history.ParseULID(args[0]); perr == nil {
		run, err = repo.GetByID(cmd.Context(), id)
	} else {
		run, err = repo.GetByRunID(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run found for %q", args[0])
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	retention := time.Duration(cfg.History.Retention)
	if s, _ := cmd.Flags().GetString("retention"); s != "" {
		d, perr := config.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parsing retention: %w", perr)
		}
		retention = time.Duration(d)
	}

	repo, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	removed, err := repo.Prune(cmd.Context(), retention)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d runs older than %s\n", removed, retention)
	return nil
}
