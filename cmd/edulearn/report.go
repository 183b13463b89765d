package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"edulearn/internal/analytics"
	"edulearn/internal/storage"
)

func newReportCmd() *cobra.Command {
	var (
		date      string
		sessionID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the usage report for one UTC day of the interaction log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if cfg.InteractionLogPath == "" {
				return errors.New("no interaction log: set INTERACTION_LOG_PATH")
			}
			day := time.Now().UTC()
			if date != "" {
				if day, err = time.Parse(time.DateOnly, date); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			rec, err := storage.NewFileRecorder(cfg.InteractionLogPath)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), rec, day, sessionID, asJSON)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to report as YYYY-MM-DD, defaults to today (UTC)")
	cmd.Flags().StringVar(&sessionID, "session", "", "restrict the report to one session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stats as JSON")
	return cmd
}

func writeReport(w io.Writer, rec storage.Recorder, day time.Time, sessionID string, asJSON bool) error {
	f := storage.Day(day)
	f.SessionID = sessionID
	events, err := rec.Query(f)
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}
	stats := analytics.AnalyzeDailyLogs(events, f.From)
	if !asJSON {
		_, err = fmt.Fprintln(w, stats.GenerateReportSummary())
		return err
	}
	out, err := stats.ToJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
