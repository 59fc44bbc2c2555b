// Package config loads engine configuration from CUE files.
//
// Loaded files are unified against the embedded schema, so typos, unknown
// fields and out-of-range values fail loudly at load time with CUE's
// positional error messages.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/lanternsoft/concord/internal/engine"
	"github.com/lanternsoft/concord/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// fileConfig mirrors the CUE schema's config struct. Pointer fields
// distinguish "absent, keep the default" from explicit zero values.
type fileConfig struct {
	MaxCollaborators            *int              `json:"maxCollaborators"`
	ConflictResolutionTimeoutMs *int              `json:"conflictResolutionTimeoutMs"`
	PresenceUpdateIntervalMs    *int              `json:"presenceUpdateIntervalMs"`
	DetectionWindowMs           *int              `json:"detectionWindowMs"`
	SessionTTLMs                *int              `json:"sessionTTLMs"`
	SweepIntervalMs             *int              `json:"sweepIntervalMs"`
	UpdateLogCap                *int              `json:"updateLogCap"`
	NotificationCap             *int              `json:"notificationCap"`
	ActivityCap                 *int              `json:"activityCap"`
	CursorsEnabled              *bool             `json:"cursorsEnabled"`
	ActivityFeedEnabled         *bool             `json:"activityFeedEnabled"`
	AutoResolveConflicts        *bool             `json:"autoResolveConflicts"`
	NotificationAllowList       []string          `json:"notificationAllowList"`
	NotificationPriorities      map[string]string `json:"notificationPriorities"`
}

// Load reads a CUE configuration file, validates it against the schema,
// and overlays it on engine.DefaultConfig().
func Load(path string) (engine.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(string(data), path)
}

// Parse validates CUE source against the schema and maps it onto an
// engine.Config. The filename is used for error positions only.
func Parse(source, filename string) (engine.Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return engine.Config{}, fmt.Errorf("internal schema error: %w", err)
	}

	file := ctx.CompileString(source, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return engine.Config{}, formatCUEError(err)
	}

	unified := schema.Unify(file)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return engine.Config{}, formatCUEError(err)
	}

	// The schema alone satisfies unification, so require the file itself
	// to declare the config struct.
	if !file.LookupPath(cue.ParsePath("config")).Exists() {
		return engine.Config{}, fmt.Errorf("%s: missing top-level config struct", filename)
	}
	configVal := unified.LookupPath(cue.ParsePath("config"))

	var raw fileConfig
	if err := configVal.Decode(&raw); err != nil {
		return engine.Config{}, formatCUEError(err)
	}

	return apply(raw)
}

// apply overlays the file values on the defaults.
func apply(raw fileConfig) (engine.Config, error) {
	cfg := engine.DefaultConfig()

	if raw.MaxCollaborators != nil {
		cfg.MaxCollaborators = *raw.MaxCollaborators
	}
	if raw.ConflictResolutionTimeoutMs != nil {
		cfg.ConflictResolutionTimeout = time.Duration(*raw.ConflictResolutionTimeoutMs) * time.Millisecond
	}
	if raw.PresenceUpdateIntervalMs != nil {
		cfg.PresenceUpdateInterval = time.Duration(*raw.PresenceUpdateIntervalMs) * time.Millisecond
	}
	if raw.DetectionWindowMs != nil {
		cfg.DetectionWindow = time.Duration(*raw.DetectionWindowMs) * time.Millisecond
	}
	if raw.SessionTTLMs != nil {
		cfg.SessionTTL = time.Duration(*raw.SessionTTLMs) * time.Millisecond
	}
	if raw.SweepIntervalMs != nil {
		cfg.SweepInterval = time.Duration(*raw.SweepIntervalMs) * time.Millisecond
	}
	if raw.UpdateLogCap != nil {
		cfg.UpdateLogCap = *raw.UpdateLogCap
	}
	if raw.NotificationCap != nil {
		cfg.NotificationCap = *raw.NotificationCap
	}
	if raw.ActivityCap != nil {
		cfg.ActivityCap = *raw.ActivityCap
	}
	if raw.CursorsEnabled != nil {
		cfg.CursorsDisabled = !*raw.CursorsEnabled
	}
	if raw.ActivityFeedEnabled != nil {
		cfg.ActivityFeedDisabled = !*raw.ActivityFeedEnabled
	}
	if raw.AutoResolveConflicts != nil {
		cfg.AutoResolveConflicts = *raw.AutoResolveConflicts
	}

	if raw.NotificationAllowList != nil {
		allowed := make(map[model.NotificationKind]bool, len(raw.NotificationAllowList))
		for _, kind := range raw.NotificationAllowList {
			allowed[model.NotificationKind(kind)] = true
		}
		cfg.NotificationAllowList = allowed
	}
	if raw.NotificationPriorities != nil {
		priorities := make(map[model.NotificationKind]model.Priority, len(raw.NotificationPriorities))
		for kind, priority := range raw.NotificationPriorities {
			priorities[model.NotificationKind(kind)] = model.Priority(priority)
		}
		// File priorities overlay the defaults rather than replacing
		// them, so a file can re-prioritize one kind without listing all.
		for kind, priority := range priorities {
			cfg.NotificationPriorities[kind] = priority
		}
	}

	return cfg, nil
}

// formatCUEError flattens CUE's error list into one message with
// positions, which reads better on the CLI than the raw error value.
func formatCUEError(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}
	msg := ""
	for i, e := range list {
		if i > 0 {
			msg += "; "
		}
		pos := e.Position()
		if pos.IsValid() {
			msg += fmt.Sprintf("%s:%d:%d: ", pos.Filename(), pos.Line(), pos.Column())
		}
		msg += e.Error()
	}
	return fmt.Errorf("invalid configuration: %s", msg)
}
