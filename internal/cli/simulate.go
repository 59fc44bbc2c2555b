package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lanternsoft/concord/internal/archive"
	"github.com/lanternsoft/concord/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Archive string
}

// SimulateResult is the JSON payload for a scenario run.
type SimulateResult struct {
	Name   string               `json:"name"`
	Pass   bool                 `json:"pass"`
	Trace  []harness.TraceEvent `json:"trace"`
	Final  map[string]int       `json:"final"`
	Errors []string             `json:"errors,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Replay one collaboration scenario",
		Long: `Replay a scenario file against a fresh engine and print the
resulting event trace and final state.

The engine runs with a manual clock, manual timers and a fixed id
generator, so the same scenario always produces the same trace.

Exit codes:
  0 - Scenario ran and all assertions passed
  1 - One or more assertions failed
  2 - Command error (invalid scenario, etc.)

With --archive, every update, conflict and activity entry the run
produces is also persisted to a SQLite database readable by
'concord trace'.

Examples:
  concord simulate ./scenarios/concurrent-title-edit.yaml
  concord simulate ./scenarios/concurrent-title-edit.yaml --format json
  concord simulate ./scenarios/concurrent-title-edit.yaml --archive ./history.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Archive, "archive", "", "SQLite database to persist the run's history to")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	var taps []harness.BusTap
	if opts.Archive != "" {
		arch, err := archive.Open(opts.Archive, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		defer arch.Close()
		taps = append(taps, arch.Attach)
	}

	result, err := harness.Run(scenario, taps...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	payload := SimulateResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Trace:  result.Trace,
		Final:  result.Final,
		Errors: result.Errors,
	}

	if opts.Format == "json" {
		status := "ok"
		var cliErr *CLIError
		if !result.Pass {
			status = "error"
			cliErr = &CLIError{
				Code:    "E_ASSERTION_FAILED",
				Message: fmt.Sprintf("%d assertion(s) failed", len(result.Errors)),
			}
		}
		if err := outputJSON(cmd, CLIResponse{Status: status, Data: payload, Error: cliErr}); err != nil {
			return err
		}
		if !result.Pass {
			return NewExitError(ExitFailure, "scenario assertions failed")
		}
		return nil
	}

	return outputSimulateText(cmd, payload)
}

// outputSimulateText prints the trace timeline and final state.
func outputSimulateText(cmd *cobra.Command, result SimulateResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Scenario: %s\n\n", result.Name)

	fmt.Fprintln(w, "=== Trace ===")
	if len(result.Trace) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Trace {
		fmt.Fprintf(w, "  [%d] %s", ev.Seq, ev.Event)
		if ev.Actor != "" {
			fmt.Fprintf(w, " actor=%s", ev.Actor)
		}
		if ev.Entity != "" {
			fmt.Fprintf(w, " entity=%s", ev.Entity)
		}
		if ev.Path != "" {
			fmt.Fprintf(w, " path=%s", ev.Path)
		}
		if ev.Detail != "" {
			fmt.Fprintf(w, " (%s)", ev.Detail)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Final State ===")
	for _, key := range []string{
		"collaborators", "updates", "pending_conflicts", "total_conflicts",
		"active_sessions", "notifications", "activity_entries",
	} {
		fmt.Fprintf(w, "  %-18s %d\n", key+":", result.Final[key])
	}
	fmt.Fprintln(w)

	if result.Pass {
		fmt.Fprintln(w, "✓ All assertions passed")
		return nil
	}

	fmt.Fprintln(w, "✗ Assertions failed:")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return NewExitError(ExitFailure, "scenario assertions failed")
}
