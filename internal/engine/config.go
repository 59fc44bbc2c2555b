package engine

import (
	"time"

	"github.com/lanternsoft/concord/internal/model"
)

// Config holds the engine's tunables. Zero values fall back to the
// defaults below, so Config{} is a valid production configuration.
type Config struct {
	// MaxCollaborators bounds the presence registry. 0 means the default;
	// negative means unlimited.
	MaxCollaborators int

	// ConflictResolutionTimeout is how long a conflict may stay PENDING
	// before auto-resolution (when AutoResolveConflicts is set).
	ConflictResolutionTimeout time.Duration

	// PresenceUpdateInterval is the cadence consumers should refresh
	// presence at. The engine exposes it to its callers and uses it as
	// the default staleness sweep cadence.
	PresenceUpdateInterval time.Duration

	// DetectionWindow is W: same-field updates from distinct actors
	// closer together than this are conflicting. <= 0 uses the detector
	// default (5s).
	DetectionWindow time.Duration

	// SessionTTL is how long a live-edit session may go without a
	// heartbeat before the staleness sweep ends it. <= 0 uses the
	// tracker default (30s).
	SessionTTL time.Duration

	// SweepInterval is the staleness sweep cadence. <= 0 falls back to
	// PresenceUpdateInterval.
	SweepInterval time.Duration

	// NotificationAllowList filters dispatched kinds. nil allows all.
	NotificationAllowList map[model.NotificationKind]bool

	// NotificationPriorities supplies per-kind priority defaults.
	NotificationPriorities map[model.NotificationKind]model.Priority

	// UpdateLogCap, NotificationCap and ActivityCap bound the logs.
	// <= 0 uses the component defaults (100, 50, 100).
	UpdateLogCap    int
	NotificationCap int
	ActivityCap     int

	// CursorsDisabled stops heartbeats from recording cursor positions.
	// The zero value keeps cursors on, matching the default.
	CursorsDisabled bool

	// ActivityFeedDisabled stops the feed from recording anything.
	// The zero value keeps the feed on, matching the default.
	ActivityFeedDisabled bool

	// AutoResolveConflicts schedules last_writer_wins auto-resolution of
	// conflicts still PENDING after ConflictResolutionTimeout.
	AutoResolveConflicts bool
}

// Defaults for Config's zero values.
const (
	DefaultMaxCollaborators          = 10
	DefaultConflictResolutionTimeout = 30 * time.Second
	DefaultPresenceUpdateInterval    = 5 * time.Second
)

// DefaultConfig returns the configuration a demo deployment runs with:
// cursors and the activity feed on, auto-resolution off (humans resolve),
// every notification kind allowed.
func DefaultConfig() Config {
	return Config{
		MaxCollaborators:          DefaultMaxCollaborators,
		ConflictResolutionTimeout: DefaultConflictResolutionTimeout,
		PresenceUpdateInterval:    DefaultPresenceUpdateInterval,
		NotificationPriorities: map[model.NotificationKind]model.Priority{
			model.NotifyUserJoined:       model.PriorityLow,
			model.NotifyUserLeft:         model.PriorityLow,
			model.NotifyConflictDetected: model.PriorityHigh,
			model.NotifyConflictResolved: model.PriorityMedium,
			model.NotifyEditStarted:      model.PriorityLow,
			model.NotifyMention:          model.PriorityMedium,
		},
	}
}

// withDefaults fills zero-valued fields from the defaults.
func (c Config) withDefaults() Config {
	if c.MaxCollaborators == 0 {
		c.MaxCollaborators = DefaultMaxCollaborators
	}
	if c.ConflictResolutionTimeout <= 0 {
		c.ConflictResolutionTimeout = DefaultConflictResolutionTimeout
	}
	if c.PresenceUpdateInterval <= 0 {
		c.PresenceUpdateInterval = DefaultPresenceUpdateInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.PresenceUpdateInterval
	}
	if c.NotificationPriorities == nil {
		c.NotificationPriorities = DefaultConfig().NotificationPriorities
	}
	return c
}
