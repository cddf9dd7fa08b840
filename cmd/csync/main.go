package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"csync/internal/app"
	"csync/internal/config"
	"csync/internal/csync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// errPartialFailure makes the process exit with status 1 after a run whose
// summary has already been printed.
var errPartialFailure = errors.New("one or more tasks failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a CSyncApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Run", "Status").
func newApp(operation string, opts ...app.Option) (*app.CSyncApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewCSyncApp(cfg, operation, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "csync",
	Short: "Checksum-tracked incremental directory sync",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Add [[tasks]] entries to start syncing.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Workers:     %d (parallel tasks: %d)\n", cfg.Workers, cfg.ParallelTasks)
		fmt.Printf("Fingerprint: %s\n", cfg.Fingerprint)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Metrics:     %s %s\n", cfg.Metrics.Type, cfg.Metrics.URL)
		if len(cfg.Filesystem.Exclude) > 0 {
			fmt.Printf("Exclude:     %v\n", cfg.Filesystem.Exclude)
		}

		if len(cfg.Tasks) == 0 {
			fmt.Println("\nNo tasks configured.")
			return nil
		}
		fmt.Println("\nTasks:")
		for _, t := range cfg.Tasks {
			overwrite := ""
			if t.Overwrite {
				overwrite = "  [overwrite]"
			}
			fmt.Printf("  %-15s  %s -> %s  (table %s)%s\n", t.Name, t.Source, t.Dest, t.Table, overwrite)
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:          "run",
	Short:        "Sync configured tasks",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, _ := cmd.Flags().GetStringSlice("task")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		verbose, _ := cmd.Flags().GetBool("verbose")

		a, err := newApp("Run", app.WithVerbose(verbose))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := a.Run(ctx, tasks, dryRun)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}

		for _, tr := range res.Tasks {
			c := tr.Counters
			fmt.Printf("%-15s  %-9s  transferred %s  unchanged %s  failed %s  %s\n",
				tr.Name,
				tr.State,
				humanize.Comma(c.Transferred),
				humanize.Comma(c.SkippedUnchanged),
				humanize.Comma(c.Failed),
				tr.Duration.Truncate(time.Millisecond),
			)
			if tr.Err != nil {
				fmt.Printf("%-15s  %v\n", "", tr.Err)
			}
		}
		if dryRun {
			fmt.Println("Dry run: nothing was written.")
		}

		if res.Status == csync.PartialFailure {
			return errPartialFailure
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log TASK RELPATH",
	Short: "View the stored fingerprint of a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FileRecord")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.FileRecord(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("Never synced.")
			return nil
		}

		fmt.Printf("%s  %s  synced %s (%s)\n",
			rec.Fingerprint,
			rec.RelativePath,
			rec.LastSynced.Local().Format("2006-01-02 15:04:05"),
			humanize.Time(rec.LastSynced),
		)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, h := range runs {
			r := h.Run
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.FinishedAt.Time.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %s  %-15s  %-10s  %s\n",
				r.ID[:min(8, len(r.ID))],
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				r.Parameters,
			)
			for _, t := range h.Tasks {
				fmt.Printf("    %-15s  %-9s  discovered %d  transferred %d  unchanged %d  failed %d\n",
					t.Task, t.State, t.TotalDiscovered, t.Transferred, t.SkippedUnchanged, t.Failed)
			}
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View stored record counts per task",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		if len(statuses) == 0 {
			fmt.Println("No tasks configured.")
			return nil
		}
		for _, s := range statuses {
			fmt.Printf("%-15s  table %-15s  %s record(s)\n", s.Task, s.Table, humanize.Comma(s.Records))
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceP("task", "t", nil, "Run only the named task (repeatable)")
	runCmd.Flags().Bool("dry-run", false, "Report what would be transferred without writing")
	runCmd.Flags().BoolP("verbose", "v", false, "Show debug output")
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
