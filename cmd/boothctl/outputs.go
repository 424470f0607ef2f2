package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"booth/internal/service/storage"

	"github.com/spf13/cobra"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List finished recordings, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOutputs()
	},
}

func init() {
	rootCmd.AddCommand(outputsCmd)
}

func runOutputs() error {
	outputs, err := storage.NewOutputService(cfg.OutputDir, log).ListMetadata()
	if err != nil {
		return err
	}

	if len(outputs) == 0 {
		fmt.Printf("No recordings found in %s.\n", cfg.OutputDir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "JOB\tTIMESTAMP\tDURATION\tFILTER\tPERSONS\tFILE")
	fmt.Fprintln(w, "---\t---------\t--------\t------\t-------\t----")
	for _, o := range outputs {
		fmt.Fprintf(w, "%s\t%s\t%ds\t%s\t%d\t%s\n", o.JobID, o.TimestampUTC, o.DurationS, o.FilterUsed, o.PersonCount, o.Filename)
	}
	return w.Flush()
}
