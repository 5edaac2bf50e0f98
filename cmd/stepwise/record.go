package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/stepwise/internal/recorder"
)

var (
	// recordLimit caps the number of listed records
	recordLimit int
)

func init() {
	recordCmd.Flags().IntVar(&recordLimit, "limit", 20, "number of records to list")
}

var recordCmd = &cobra.Command{
	Use:   "record [planId]",
	Short: "Show execution records",
	Long: `Show the execution record of one plan, or list the most recent records.
Records persist only with memory.type sqlite.

Examples:
  stepwise record
  stepwise record weekly-42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.sqlite == nil {
		return errors.New("records are only kept with memory.type sqlite")
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		rec, err := a.sqlite.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no record for plan %s", args[0])
		}
		printRecord(out, rec)
		return nil
	}

	recs, err := a.sqlite.List(cmd.Context(), recordLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "no records")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(out, "%-24s %-10s %s  %s\n", rec.PlanID, recordState(rec), formatTime(rec.StartTime), rec.Title)
	}
	return nil
}

func recordState(rec *recorder.PlanExecutionRecord) string {
	switch {
	case rec.Completed:
		return "completed"
	case !rec.EndTime.IsZero():
		return "stopped"
	default:
		return "running"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printRecord(w io.Writer, rec *recorder.PlanExecutionRecord) {
	fmt.Fprintf(w, "Plan ID: %s\n", rec.PlanID)
	fmt.Fprintf(w, "Title: %s\n", rec.Title)
	fmt.Fprintf(w, "Request: %s\n", rec.UserRequest)
	fmt.Fprintf(w, "State: %s\n", recordState(rec))
	fmt.Fprintf(w, "Started: %s\n", formatTime(rec.StartTime))
	fmt.Fprintf(w, "Ended: %s\n", formatTime(rec.EndTime))
	fmt.Fprintf(w, "Current step: %d\n", rec.CurrentStepIndex)
	fmt.Fprintln(w, "Steps:")
	for _, s := range rec.Steps {
		fmt.Fprintf(w, "  %s\n", s)
	}
}
