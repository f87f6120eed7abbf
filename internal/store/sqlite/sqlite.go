package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loykin/fleetmon/internal/record"
	"github.com/loykin/fleetmon/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver,
// CGO-free). DSN is a filesystem path; use ":memory:" for in-memory.
// Intended for offline/local deployments where the remote record
// store is not reachable from the machine.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and ensures the schema.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_record(
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			process_id TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			account_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			image_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_record_machine ON process_record(machine_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_process_record_active
			ON process_record(machine_id, process_id) WHERE status = 'ACTIVE';`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

const recordCols = `id, machine_id, process_id, channel, account_id, status, image_ref, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (record.Record, error) {
	var rec record.Record
	var status string
	err := row.Scan(&rec.ID, &rec.MachineID, &rec.ProcessID, &rec.Channel, &rec.AccountID, &status, &rec.ImageRef, &rec.UpdatedAt)
	if err != nil {
		return record.Record{}, err
	}
	rec.Status = record.Status(status)
	return rec, nil
}

func (s *DB) QueryByMachine(ctx context.Context, machineID string) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordCols+` FROM process_record WHERE machine_id = ? ORDER BY created_at`, machineID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrQuery, err)
	}
	defer func() { _ = rows.Close() }()
	var out []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrQuery, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrQuery, err)
	}
	return out, nil
}

func (s *DB) FindByMachineAndProcess(ctx context.Context, machineID, processID string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM process_record
		 WHERE machine_id = ? AND process_id = ? AND status = 'ACTIVE'
		 ORDER BY created_at DESC LIMIT 1`, machineID, processID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, store.ErrNotFound
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", store.ErrQuery, err)
	}
	return rec, nil
}

func (s *DB) Create(ctx context.Context, rec record.Record) (record.Record, error) {
	rec.ID = uuid.NewString()
	if rec.Status == "" {
		rec.Status = record.StatusActive
	}
	now := time.Now().UTC()
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_record(id, machine_id, process_id, channel, account_id, status, image_ref, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.MachineID, rec.ProcessID, rec.Channel, rec.AccountID, string(rec.Status), rec.ImageRef, now, now)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	return rec, nil
}

func (s *DB) Update(ctx context.Context, id string, fields record.Fields) (record.Record, error) {
	set := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if fields.Channel != nil {
		set = append(set, "channel = ?")
		args = append(args, *fields.Channel)
	}
	if fields.AccountID != nil {
		set = append(set, "account_id = ?")
		args = append(args, *fields.AccountID)
	}
	if fields.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*fields.Status))
	}
	if fields.ImageRef != nil {
		set = append(set, "image_ref = ?")
		args = append(args, *fields.ImageRef)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE process_record SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return record.Record{}, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM process_record WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", store.ErrQuery, err)
	}
	return rec, nil
}

func (s *DB) Close() error { return s.db.Close() }
