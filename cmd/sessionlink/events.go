package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"sessionlink/internal/journal"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print recently journaled connection events",
	Long: `Reads the sqlite journal written by "connect --journal" and prints the
newest events, oldest first. Without --session every session is listed.`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().String("journal", "", "journal file (defaults to the configured path)")
	eventsCmd.Flags().IntP("limit", "n", 50, "number of events")
	eventsCmd.Flags().Bool("json", false, "one JSON object per line")
}

func runEvents(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	store, err := journal.Open(cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Recent(cmd.Context(), cfg.Endpoint.SessionCode, limit)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSONLines(cmd.OutOrStdout(), entries)
	}
	return writeTable(cmd.OutOrStdout(), entries)
}

func writeJSONLines(out io.Writer, entries []journal.Entry) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(out io.Writer, entries []journal.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "no events")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tSESSION\tCHANNEL\tKIND\tCODE\tDETAIL")
	for _, e := range entries {
		code := ""
		if e.Code != 0 {
			code = fmt.Sprint(e.Code)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.SessionCode, e.ConnectionID, e.Kind, code, e.Detail)
	}
	return tw.Flush()
}
