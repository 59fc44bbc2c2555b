package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanternsoft/concord/internal/archive"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Entity   string // optional - filter to a specific entity id
}

// TraceResult holds the archived history output.
type TraceResult struct {
	Database  string                `json:"database"`
	Updates   []archive.UpdateRow   `json:"updates"`
	Conflicts []archive.ConflictRow `json:"conflicts"`
	Activity  []archive.ActivityRow `json:"activity"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect archived engine history",
		Long: `Read the SQLite archive an engine wrote and print its update,
conflict and activity history.

Examples:
  concord trace --db ./concord.db
  concord trace --db ./concord.db --entity doc-1
  concord trace --db ./concord.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite archive (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "filter to a specific entity id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("archive not found: %s", opts.Database))
	}

	arch, err := archive.Open(opts.Database, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	defer arch.Close()

	updates, err := arch.ReadUpdates()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read updates", err)
	}
	conflicts, err := arch.ReadConflicts()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read conflicts", err)
	}
	activity, err := arch.ReadActivity()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read activity", err)
	}

	result := TraceResult{
		Database:  opts.Database,
		Updates:   filterUpdates(updates, opts.Entity),
		Conflicts: filterConflicts(conflicts, opts.Entity),
		Activity:  filterActivity(activity, opts.Entity),
	}

	if opts.Format == "json" {
		return outputJSON(cmd, CLIResponse{Status: "ok", Data: result})
	}

	return outputTraceText(cmd, result, opts.Verbose)
}

func filterUpdates(rows []archive.UpdateRow, entity string) []archive.UpdateRow {
	if entity == "" {
		return rows
	}
	var out []archive.UpdateRow
	for _, row := range rows {
		if row.EntityID == entity {
			out = append(out, row)
		}
	}
	return out
}

func filterConflicts(rows []archive.ConflictRow, entity string) []archive.ConflictRow {
	if entity == "" {
		return rows
	}
	var out []archive.ConflictRow
	for _, row := range rows {
		if row.EntityID == entity {
			out = append(out, row)
		}
	}
	return out
}

func filterActivity(rows []archive.ActivityRow, entity string) []archive.ActivityRow {
	if entity == "" {
		return rows
	}
	var out []archive.ActivityRow
	for _, row := range rows {
		if row.EntityID == entity {
			out = append(out, row)
		}
	}
	return out
}

// outputTraceText prints the archived history as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Archive: %s\n\n", result.Database)

	fmt.Fprintln(w, "=== Updates ===")
	if len(result.Updates) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, u := range result.Updates {
		fmt.Fprintf(w, "  [%d] %s %s %s/%s path=%s by %s\n",
			u.Seq, u.ID, u.Kind, u.EntityKind, u.EntityID, u.OpPath, u.ActorID)
		if verbose {
			fmt.Fprintf(w, "       at %s", formatUnixMS(u.TimeUnixMS))
			if u.NewValue != "" {
				fmt.Fprintf(w, " value=%s", u.NewValue)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Conflicts ===")
	if len(result.Conflicts) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range result.Conflicts {
		fmt.Fprintf(w, "  %s %s/%s path=%s state=%s", c.ID, c.EntityKind, c.EntityID, c.Path, c.State)
		if c.Strategy != "" {
			fmt.Fprintf(w, " strategy=%s by=%s", c.Strategy, c.ResolvedBy)
		}
		fmt.Fprintln(w)
		if verbose {
			fmt.Fprintf(w, "       members: %v\n", c.MemberIDs)
			if c.FinalValue != "" {
				fmt.Fprintf(w, "       final: %s\n", c.FinalValue)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Activity ===")
	if len(result.Activity) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, e := range result.Activity {
		fmt.Fprintf(w, "  %s %s: %s\n", formatUnixMS(e.TimeUnixMS), e.Kind, e.Description)
	}

	return nil
}

func formatUnixMS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
