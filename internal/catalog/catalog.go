package catalog

// Package catalog defines the slice of the external entity model the
// scheduling engine reads: workspaces (container entities) and the saved
// searches embedded in them, with their recurrence and delivery blocks.
// The engine never writes these entities; it only reacts to their mutations.

// KindWorkspace is the container-entity kind the coordinator recognizes.
// Entities of any other kind are ignored.
const KindWorkspace = "workspace"

// Workspace is a container entity. Only workspaces carrying embedded
// searches are of interest to the scheduler.
type Workspace struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Title    string        `json:"title"`
	Searches []SavedSearch `json:"searches,omitempty"`
}

// IsWorkspace reports whether the entity is a schedulable container.
func (w Workspace) IsWorkspace() bool { return w.Kind == KindWorkspace }

// SavedSearch is an embedded search sub-entity. Schedules and Deliveries are
// parallel lists: the delivery block at index i rides on the schedule at
// index i, as in the source data model.
type SavedSearch struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// Query is the stored query expression, compiled into the search
	// engine's filter form at execution time.
	Query   string   `json:"query"`
	Sort    string   `json:"sort,omitempty"` // "ascending" (default) or "descending"
	Sources []string `json:"sources,omitempty"`

	Schedules  []Schedule `json:"schedules,omitempty"`
	Deliveries []Delivery `json:"deliveries,omitempty"`
}

// Schedule is the raw recurrence block as stored on the entity. String
// fields are parsed (with defaults for malformed values) by the scheduling
// layer; see sched.ParseRecurrence.
type Schedule struct {
	Enabled bool   `json:"isScheduled"`
	UserID  string `json:"scheduleUserId"`
	Amount  int    `json:"scheduleAmount"`
	Unit    string `json:"scheduleUnit"`
	Start   string `json:"scheduleStart"` // yyyy-MM-dd'T'HH:mm:ss.SSSZ
	End     string `json:"scheduleEnd"`
}

// Delivery is the raw delivery block riding on a schedule.
type Delivery struct {
	DestinationIDs []string `json:"deliveryIds"`
	UserID         string   `json:"userId"`

	// Delayed selects the fixed daily-time cadence; when false, delivery
	// mirrors the query's own recurrence ("aligned" mode).
	Delayed bool `json:"delayed"`
	Hour    int  `json:"hour,omitempty"`
	Minute  int  `json:"minute,omitempty"`
}

// Scheduled reports whether this search carries any scheduling or delivery
// configuration at all (the cheap pre-filter used on mutation events).
func (s SavedSearch) Scheduled() bool {
	return len(s.Schedules) > 0 || len(s.Deliveries) > 0
}
