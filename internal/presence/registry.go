// Package presence tracks collaborator identity, status and location.
package presence

import (
	"log/slog"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/clock"
	"github.com/lanternsoft/concord/internal/model"
)

// Registry is the authoritative record of who is participating.
//
// The registry owns only collaborator state. Cross-component effects of
// joins and leaves (notifications, activity entries, cascading session
// teardown) are orchestrated by the engine facade.
//
// Not internally locked: the engine facade serializes all access.
type Registry struct {
	bus    *bus.Bus
	time   clock.TimeSource
	max    int
	byID   map[string]*model.Collaborator
	order  []string // registration order, for stable snapshots
	logger *slog.Logger
}

// NewRegistry creates an empty registry. max <= 0 means unlimited.
func NewRegistry(b *bus.Bus, ts clock.TimeSource, max int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bus:    b,
		time:   ts,
		max:    max,
		byID:   make(map[string]*model.Collaborator),
		logger: logger,
	}
}

// Add registers a collaborator and emits presence-changed.
//
// The display name is NFC-normalized so equality checks and rendered
// output are independent of how the client composed the string.
//
// Fails with DuplicateActorError if the id is already registered and
// RegistryFullError if the configured capacity is reached.
func (r *Registry) Add(c model.Collaborator) (*model.Collaborator, error) {
	if _, exists := r.byID[c.ID]; exists {
		return nil, &DuplicateActorError{ActorID: c.ID}
	}
	if r.max > 0 && len(r.byID) >= r.max {
		return nil, &RegistryFullError{ActorID: c.ID, Limit: r.max}
	}

	c.DisplayName = norm.NFC.String(c.DisplayName)
	if c.Status == "" {
		c.Status = model.StatusOnline
	}
	c.LastSeenAt = r.time.Now()

	stored := c.Clone()
	r.byID[c.ID] = stored
	r.order = append(r.order, c.ID)

	r.logger.Debug("collaborator added", "actor", c.ID, "role", string(c.Role))
	r.bus.Publish(bus.Event{Topic: bus.TopicPresenceChanged, Collaborator: stored.Clone()})
	return stored.Clone(), nil
}

// Remove unregisters a collaborator and emits presence-changed.
// Returns the removed entry, or nil if the id was unknown (no-op).
func (r *Registry) Remove(id string) *model.Collaborator {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}

	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Debug("collaborator removed", "actor", id)
	r.bus.Publish(bus.Event{Topic: bus.TopicPresenceChanged, Collaborator: c.Clone()})
	return c.Clone()
}

// UpdatePresence refreshes a collaborator's location, status and last-seen
// time, and emits presence-changed. Unknown ids are a no-op returning nil.
// A nil status pointer leaves the current status unchanged.
func (r *Registry) UpdatePresence(id string, loc model.Location, status *model.PresenceStatus) *model.Collaborator {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}

	c.Location = loc
	c.LastSeenAt = r.time.Now()
	if status != nil {
		c.Status = *status
	}

	r.bus.Publish(bus.Event{Topic: bus.TopicPresenceChanged, Collaborator: c.Clone()})
	return c.Clone()
}

// Get returns a snapshot of one collaborator, or nil if unknown.
func (r *Registry) Get(id string) *model.Collaborator {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	return c.Clone()
}

// List returns a snapshot of all collaborators sorted by status priority
// (online, away, offline) and then by last-seen time, most recent first.
func (r *Registry) List() []*model.Collaborator {
	out := make([]*model.Collaborator, 0, len(r.byID))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := model.StatusRank(out[i].Status), model.StatusRank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out
}

// IDs returns all registered actor ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// OtherIDs returns all registered actor ids except the given one.
// Used to target join/leave notifications at everyone else.
func (r *Registry) OtherIDs(exclude string) []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of registered collaborators.
func (r *Registry) Count() int {
	return len(r.byID)
}
