// Package archive provides the durable counterpart of the engine's
// in-memory logs: a SQLite-backed audit sink fed through the event bus.
//
// The engine core never depends on this package. A deployment that wants
// durable history attaches an Archive to the engine's bus; everything the
// in-memory logs evict survives here for `concord trace` and offline
// inspection.
package archive

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Archive is a SQLite-backed audit sink for engine records.
// Uses WAL mode for concurrent read access while the sink writes.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens a SQLite database at the given path and applies
// pragmas and schema. Idempotent - safe to call on an existing archive.
func Open(path string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect archive: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under the bus's synchronous delivery.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}

	return &Archive{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Attach subscribes the archive to the bus topics it persists. Writes are
// best-effort: a failed insert is logged and delivery continues, matching
// the telemetry role of the archive.
func (a *Archive) Attach(b *bus.Bus) {
	b.Subscribe(bus.TopicUpdateRecorded, func(ev bus.Event) {
		if err := a.WriteUpdate(ev.Update); err != nil {
			a.logger.Error("archive update write failed", "id", ev.Update.ID, "error", err)
		}
	})
	b.Subscribe(bus.TopicConflictDetected, func(ev bus.Event) {
		if err := a.WriteConflict(ev.Conflict); err != nil {
			a.logger.Error("archive conflict write failed", "id", ev.Conflict.ID, "error", err)
		}
	})
	b.Subscribe(bus.TopicConflictResolved, func(ev bus.Event) {
		if err := a.WriteConflict(ev.Conflict); err != nil {
			a.logger.Error("archive conflict write failed", "id", ev.Conflict.ID, "error", err)
		}
	})
	b.Subscribe(bus.TopicActivityAdded, func(ev bus.Event) {
		if err := a.WriteActivity(ev.Activity); err != nil {
			a.logger.Error("archive activity write failed", "id", ev.Activity.ID, "error", err)
		}
	})
}

// WriteUpdate inserts an update record. ON CONFLICT DO NOTHING keeps
// replays idempotent.
func (a *Archive) WriteUpdate(u *model.Update) error {
	_, err := a.db.Exec(`
		INSERT INTO updates
		(id, kind, entity_kind, entity_id, actor_id, ts_unix_ms, seq, op_kind, op_path, new_value, old_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		u.ID,
		string(u.Kind),
		u.EntityKind,
		u.EntityID,
		u.ActorID,
		u.Timestamp.UnixMilli(),
		u.Seq,
		string(u.Operation.Kind),
		u.Operation.Path,
		model.FormatValue(u.Operation.NewValue),
		model.FormatValue(u.Operation.OldValue),
	)
	if err != nil {
		return fmt.Errorf("write update: %w", err)
	}
	return nil
}

// WriteConflict upserts a conflict record. Resolution overwrites the
// PENDING row written at detection time.
func (a *Archive) WriteConflict(c *model.Conflict) error {
	memberIDs := make([]string, len(c.Members))
	for i, m := range c.Members {
		memberIDs[i] = m.ID
	}

	var resolvedAt int64
	if !c.ResolvedAt.IsZero() {
		resolvedAt = c.ResolvedAt.UnixMilli()
	}

	_, err := a.db.Exec(`
		INSERT INTO conflicts
		(id, entity_kind, entity_id, path, state, strategy, resolved_by, resolved_at, final_value, detected_at, member_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			strategy = excluded.strategy,
			resolved_by = excluded.resolved_by,
			resolved_at = excluded.resolved_at,
			final_value = excluded.final_value
	`,
		c.ID,
		c.EntityKind,
		c.EntityID,
		c.Path,
		string(c.State),
		string(c.Strategy),
		c.ResolvedBy,
		resolvedAt,
		model.FormatValue(c.FinalValue),
		c.DetectedAt.UnixMilli(),
		strings.Join(memberIDs, ","),
	)
	if err != nil {
		return fmt.Errorf("write conflict: %w", err)
	}
	return nil
}

// WriteActivity inserts an activity record.
func (a *Archive) WriteActivity(e *model.ActivityEvent) error {
	_, err := a.db.Exec(`
		INSERT INTO activity
		(id, kind, actor_id, entity_kind, entity_id, entity_name, ts_unix_ms, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		string(e.Kind),
		e.ActorID,
		e.Entity.Kind,
		e.Entity.ID,
		e.EntityName,
		e.Timestamp.UnixMilli(),
		e.Description,
	)
	if err != nil {
		return fmt.Errorf("write activity: %w", err)
	}
	return nil
}

// UpdateRow is one archived update as read back for trace output.
type UpdateRow struct {
	ID         string
	Kind       string
	EntityKind string
	EntityID   string
	ActorID    string
	TimeUnixMS int64
	Seq        int64
	OpKind     string
	OpPath     string
	NewValue   string
	OldValue   string
}

// ReadUpdates returns archived updates in sequence order.
func (a *Archive) ReadUpdates() ([]UpdateRow, error) {
	rows, err := a.db.Query(`
		SELECT id, kind, entity_kind, entity_id, actor_id, ts_unix_ms, seq, op_kind, op_path, new_value, old_value
		FROM updates ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("read updates: %w", err)
	}
	defer rows.Close()

	var out []UpdateRow
	for rows.Next() {
		var r UpdateRow
		if err := rows.Scan(&r.ID, &r.Kind, &r.EntityKind, &r.EntityID, &r.ActorID,
			&r.TimeUnixMS, &r.Seq, &r.OpKind, &r.OpPath, &r.NewValue, &r.OldValue); err != nil {
			return nil, fmt.Errorf("scan update row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ConflictRow is one archived conflict as read back for trace output.
type ConflictRow struct {
	ID         string
	EntityKind string
	EntityID   string
	Path       string
	State      string
	Strategy   string
	ResolvedBy string
	ResolvedAt int64
	FinalValue string
	DetectedAt int64
	MemberIDs  []string
}

// ReadConflicts returns archived conflicts in detection order.
func (a *Archive) ReadConflicts() ([]ConflictRow, error) {
	rows, err := a.db.Query(`
		SELECT id, entity_kind, entity_id, path, state, strategy, resolved_by, resolved_at, final_value, detected_at, member_ids
		FROM conflicts ORDER BY detected_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("read conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRow
	for rows.Next() {
		var r ConflictRow
		var members string
		if err := rows.Scan(&r.ID, &r.EntityKind, &r.EntityID, &r.Path, &r.State,
			&r.Strategy, &r.ResolvedBy, &r.ResolvedAt, &r.FinalValue, &r.DetectedAt, &members); err != nil {
			return nil, fmt.Errorf("scan conflict row: %w", err)
		}
		if members != "" {
			r.MemberIDs = strings.Split(members, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActivityRow is one archived activity entry as read back for trace
// output.
type ActivityRow struct {
	ID          string
	Kind        string
	ActorID     string
	EntityKind  string
	EntityID    string
	EntityName  string
	TimeUnixMS  int64
	Description string
}

// ReadActivity returns archived activity in chronological order.
func (a *Archive) ReadActivity() ([]ActivityRow, error) {
	rows, err := a.db.Query(`
		SELECT id, kind, actor_id, entity_kind, entity_id, entity_name, ts_unix_ms, description
		FROM activity ORDER BY ts_unix_ms, id
	`)
	if err != nil {
		return nil, fmt.Errorf("read activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityRow
	for rows.Next() {
		var r ActivityRow
		if err := rows.Scan(&r.ID, &r.Kind, &r.ActorID, &r.EntityKind, &r.EntityID,
			&r.EntityName, &r.TimeUnixMS, &r.Description); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
