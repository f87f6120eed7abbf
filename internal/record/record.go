package record

import "time"

// Status is the lifecycle state of a process record in the remote store.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Record is the persisted per-process state row: one row per
// (machine id, process id) pair. The id is assigned by the store on
// creation. MachineID and ProcessID never change for the lifetime of a
// record; a restarted OS process gets a new pid and hence a new record.
// Channel and AccountID are refreshed from OCR every cycle while the
// process is live.

type Record struct {
	ID        string
	MachineID string
	ProcessID string
	Channel   string
	AccountID string
	Status    Status
	ImageRef  string
	UpdatedAt time.Time
}

// Active reports whether the record is currently marked ACTIVE.
func (r Record) Active() bool { return r.Status == StatusActive }

// Fields is a partial update applied to an existing record. Nil fields
// are left untouched by the store.
type Fields struct {
	Channel   *string
	AccountID *string
	Status    *Status
	ImageRef  *string
}

// StrPtr is a small helper for building Fields literals.
func StrPtr(s string) *string { return &s }

// StatusPtr is a small helper for building Fields literals.
func StatusPtr(s Status) *Status { return &s }
