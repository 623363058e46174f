// Package property names the ZFS user properties this engine reads and
// writes on datasets and snapshots.
package property

// Property is a ZFS user property name.
type Property string

const (
	// UUID carries the snapshot record's stable opaque identifier.
	UUID Property = "org.freenas:uuid"
	// Replicate marks a snapshot as eligible for replication.
	Replicate Property = "org.freenas:replicate"
	// Lifetime carries the snapshot's retention lifetime in seconds.
	Lifetime Property = "org.freenas:lifetime"
	// CalendarTask carries an opaque scheduling reference; recorded,
	// never interpreted here.
	CalendarTask Property = "org.freenas:calendar_task"
)

// All lists every user property this engine expands when reading
// snapshots, in the order they should be requested from `zfs get`.
var All = []Property{UUID, Replicate, Lifetime, CalendarTask}

// Readonly and Mounted are native ZFS properties (not user properties)
// the role coordinator reads and writes.
const (
	Readonly Property = "readonly"
	Mounted  Property = "mounted"
	Creation Property = "creation"
	Guid     Property = "guid"
)
