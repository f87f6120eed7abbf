package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/fleetmon/internal/record"
	"github.com/loykin/fleetmon/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.
// Used when several monitoring machines share one central database;
// rows are still scoped per machine id.

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
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
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
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
		`SELECT `+recordCols+` FROM process_record WHERE machine_id = $1 ORDER BY created_at`, machineID)
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
		 WHERE machine_id = $1 AND process_id = $2 AND status = 'ACTIVE'
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
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.MachineID, rec.ProcessID, rec.Channel, rec.AccountID, string(rec.Status), rec.ImageRef, now, now)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	return rec, nil
}

func (s *DB) Update(ctx context.Context, id string, fields record.Fields) (record.Record, error) {
	set := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	n := 2
	add := func(col string, v any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, v)
		n++
	}
	if fields.Channel != nil {
		add("channel", *fields.Channel)
	}
	if fields.AccountID != nil {
		add("account_id", *fields.AccountID)
	}
	if fields.Status != nil {
		add("status", string(*fields.Status))
	}
	if fields.ImageRef != nil {
		add("image_ref", *fields.ImageRef)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE process_record SET %s WHERE id = $%d`, strings.Join(set, ", "), n), args...)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return record.Record{}, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM process_record WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", store.ErrQuery, err)
	}
	return rec, nil
}

func (s *DB) Close() error { return s.db.Close() }
