package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanternsoft/concord/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ConfigSummary is the JSON payload for a validated configuration.
type ConfigSummary struct {
	File                        string `json:"file"`
	MaxCollaborators            int    `json:"max_collaborators"`
	DetectionWindowMs           int64  `json:"detection_window_ms"`
	SessionTTLMs                int64  `json:"session_ttl_ms"`
	SweepIntervalMs             int64  `json:"sweep_interval_ms"`
	ConflictResolutionTimeoutMs int64  `json:"conflict_resolution_timeout_ms"`
	CursorsEnabled              bool   `json:"cursors_enabled"`
	ActivityFeedEnabled         bool   `json:"activity_feed_enabled"`
	AutoResolveConflicts        bool   `json:"auto_resolve_conflicts"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate an engine configuration file",
		Long: `Validate a CUE configuration file against the engine schema.

Unknown fields, type mismatches and out-of-range values are reported
with file positions. On success the effective configuration (after
defaulting) is printed.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - Command error (file not found, etc.)

Examples:
  concord validate ./concord.cue
  concord validate ./concord.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("config file not found: %s", path))
	}

	cfg, err := config.Load(path)
	if err != nil {
		if opts.Format == "json" {
			_ = outputJSON(cmd, CLIResponse{
				Status: "error",
				Error:  &CLIError{Code: "E_INVALID_CONFIG", Message: err.Error()},
			})
			return NewExitError(ExitFailure, "configuration is invalid")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✗ %s\n  %v\n", path, err)
		return NewExitError(ExitFailure, "configuration is invalid")
	}

	summary := ConfigSummary{
		File:                        path,
		MaxCollaborators:            cfg.MaxCollaborators,
		DetectionWindowMs:           cfg.DetectionWindow.Milliseconds(),
		SessionTTLMs:                cfg.SessionTTL.Milliseconds(),
		SweepIntervalMs:             cfg.SweepInterval.Milliseconds(),
		ConflictResolutionTimeoutMs: cfg.ConflictResolutionTimeout.Milliseconds(),
		CursorsEnabled:              !cfg.CursorsDisabled,
		ActivityFeedEnabled:         !cfg.ActivityFeedDisabled,
		AutoResolveConflicts:        cfg.AutoResolveConflicts,
	}

	if opts.Format == "json" {
		return outputJSON(cmd, CLIResponse{Status: "ok", Data: summary})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	if opts.Verbose {
		fmt.Fprintf(w, "  max collaborators:     %d\n", summary.MaxCollaborators)
		fmt.Fprintf(w, "  detection window:      %s\n", cfg.DetectionWindow)
		fmt.Fprintf(w, "  session ttl:           %s\n", cfg.SessionTTL)
		fmt.Fprintf(w, "  sweep interval:        %s\n", cfg.SweepInterval)
		fmt.Fprintf(w, "  resolution timeout:    %s\n", cfg.ConflictResolutionTimeout)
		fmt.Fprintf(w, "  cursors enabled:       %t\n", summary.CursorsEnabled)
		fmt.Fprintf(w, "  activity feed enabled: %t\n", summary.ActivityFeedEnabled)
		fmt.Fprintf(w, "  auto resolve:          %t\n", summary.AutoResolveConflicts)
	}
	return nil
}
