package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"booth/internal/repository/sqlite"
	"booth/internal/service/storage"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var jobsLimit int

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Import metadata sidecars from the output directory into the jobs database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReindex()
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs stored in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobs()
	},
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to show (0 = all)")
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runReindex() error {
	fmt.Printf("Importing recordings from %s to database %s\n", cfg.OutputDir, cfg.DatabasePath)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	outputs := storage.NewOutputService(cfg.OutputDir, log)
	sidecars, err := filepath.Glob(filepath.Join(cfg.OutputDir, "*.json"))
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(sidecars),
		progressbar.OptionSetDescription("📼 Reindexing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	saved, err := outputs.Reindex(sqlite.NewJobRepository(db), func() { bar.Add(1) })
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reindex stopped after %d jobs: %w", saved, err)
	}

	fmt.Printf("✅ Imported %d of %d sidecars\n", saved, len(sidecars))
	log.Info("Reindexed %d recordings from %s", saved, cfg.OutputDir)
	return nil
}

func runJobs() error {
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	jobs, err := sqlite.NewJobRepository(db).List(jobsLimit)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tSTARTED\tDURATION\tFILTER\tERROR")
	fmt.Fprintln(w, "---\t------\t-------\t--------\t------\t-----")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%ds\t%s\t%s\n", j.ID, j.Status, j.StartedAt.Local().Format("2006-01-02 15:04:05"), j.DurationS, j.FilterUsed, j.Error)
	}
	return w.Flush()
}
