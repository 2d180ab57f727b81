package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/unifiedviews/internal/cleanup"
)

var (
	cleanupBefore   string
	cleanupPipeline string
	cleanupFormat   string
	cleanupDays     int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished executions",
	Long: `Delete finished executions created before a date together with their
working directories. Queued and running executions are kept.

Examples:
  unifiedviews cleanup --before 2024-01-31
  unifiedviews cleanup --older-than 90 --pipeline pipeline:5b0c...`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupBefore, "before", "", "delete executions created before this date (YYYY-MM-DD)")
	cleanupCmd.Flags().IntVar(&cleanupDays, "older-than", 0, "delete executions older than this many days")
	cleanupCmd.Flags().StringVar(&cleanupPipeline, "pipeline", "", "only executions of this pipeline ID")
	cleanupCmd.Flags().StringVar(&cleanupFormat, "format", "text", "output format (text, json)")
	cleanupCmd.MarkFlagsMutuallyExclusive("before", "older-than")
}

// cleanupCutoff turns the flags into the request's Before time.
func cleanupCutoff(before string, days int, now time.Time) (time.Time, error) {
	switch {
	case before != "":
		t, err := time.ParseInLocation("2006-01-02", before, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --before %q: expected YYYY-MM-DD", before)
		}
		return t, nil
	case days > 0:
		return now.AddDate(0, 0, -days), nil
	}
	return time.Time{}, fmt.Errorf("one of --before or --older-than is required")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	before, err := cleanupCutoff(cleanupBefore, cleanupDays, time.Now())
	if err != nil {
		return err
	}

	a, err := openApp(cfg, newLogger("cleanup"))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	st, err := a.Deleter.Run(ctx, "cli", cleanup.Request{Before: before, PipelineID: cleanupPipeline})
	if err != nil {
		return err
	}
	return reportCleanup(ctx, cmd, st)
}

func reportCleanup(ctx context.Context, cmd *cobra.Command, st cleanup.Status) error {
	out := cmd.OutOrStdout()
	if cleanupFormat == "json" {
		if err := printJSON(out, st); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Deleted %d of %d executions created before %s\n",
			st.Deleted, st.Total, st.Request.Before.Format("2006-01-02"))
		for _, e := range st.Errors {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
	}

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("cleanup interrupted")
	case st.State == cleanup.StateFailed:
		return fmt.Errorf("cleanup failed")
	case st.Failed > 0:
		return fmt.Errorf("%d execution(s) could not be deleted", st.Failed)
	}
	return nil
}
