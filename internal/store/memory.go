package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/fleetmon/internal/record"
)

// Memory is an in-process Store used by tests and dry runs. Writes
// are guarded by a single mutex; like the remote stores, each
// operation is atomic.
type Memory struct {
	mu      sync.Mutex
	records map[string]record.Record // id -> record
	order   []string                 // creation order for stable queries
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]record.Record)}
}

func (m *Memory) QueryByMachine(_ context.Context, machineID string) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []record.Record
	for _, id := range m.order {
		if rec := m.records[id]; rec.MachineID == machineID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) FindByMachineAndProcess(_ context.Context, machineID, processID string) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Newest first: a reused pid may have older INACTIVE rows.
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if rec.MachineID == machineID && rec.ProcessID == processID && rec.Status == record.StatusActive {
			return rec, nil
		}
	}
	return record.Record{}, ErrNotFound
}

func (m *Memory) Create(_ context.Context, rec record.Record) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uuid.NewString()
	if rec.Status == "" {
		rec.Status = record.StatusActive
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return rec, nil
}

func (m *Memory) Update(_ context.Context, id string, fields record.Fields) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return record.Record{}, ErrNotFound
	}
	if fields.Channel != nil {
		rec.Channel = *fields.Channel
	}
	if fields.AccountID != nil {
		rec.AccountID = *fields.AccountID
	}
	if fields.Status != nil {
		rec.Status = *fields.Status
	}
	if fields.ImageRef != nil {
		rec.ImageRef = *fields.ImageRef
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	return rec, nil
}

func (m *Memory) Close() error { return nil }

// All returns every record in creation order. Test helper.
func (m *Memory) All() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}
