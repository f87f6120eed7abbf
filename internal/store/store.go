package store

import (
	"context"
	"errors"

	"github.com/loykin/fleetmon/internal/record"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("record not found")

// ErrWrite marks a rejected create/update (schema mismatch, rate
// limit, connectivity). The engine does not retry within a cycle; the
// affected pid is picked up again next cycle.
var ErrWrite = errors.New("store write failed")

// ErrQuery marks a failed read. A failed initial machine query aborts
// the whole cycle.
var ErrQuery = errors.New("store query failed")

// Store is the record store consumed by the reconciliation engine.
// One row per (machine id, process id); rows are archived, never
// deleted. All operations are individually atomic from the engine's
// perspective.
type Store interface {
	// QueryByMachine returns every record owned by machineID,
	// regardless of status.
	QueryByMachine(ctx context.Context, machineID string) ([]record.Record, error)
	// FindByMachineAndProcess returns the newest ACTIVE record for
	// the pair, or ErrNotFound.
	FindByMachineAndProcess(ctx context.Context, machineID, processID string) (record.Record, error)
	// Create inserts a new ACTIVE record and returns it with its
	// store-assigned id.
	Create(ctx context.Context, rec record.Record) (record.Record, error)
	// Update applies the non-nil fields to the record with the given id.
	Update(ctx context.Context, id string, fields record.Fields) (record.Record, error)
	Close() error
}

// Uploader is implemented by stores that can attach a screenshot to a
// record. The engine treats attachment as best-effort: a failed upload
// degrades the upsert to one without an image reference.
type Uploader interface {
	// UploadImage pushes the image bytes and returns an opaque
	// reference usable as record.Fields.ImageRef.
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
}
