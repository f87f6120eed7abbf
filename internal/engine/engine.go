package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/fleetmon/internal/capture"
	"github.com/loykin/fleetmon/internal/enumerator"
	"github.com/loykin/fleetmon/internal/metrics"
	"github.com/loykin/fleetmon/internal/normalize"
	"github.com/loykin/fleetmon/internal/ocr"
	"github.com/loykin/fleetmon/internal/record"
	"github.com/loykin/fleetmon/internal/store"
)

// Engine reconciles the set of live client processes against the
// record store once per cycle. Cycles are serialized by the caller
// (the scheduler never overlaps runs); within a cycle the per-process
// pipelines run concurrently, except for screenshot capture which the
// gateway serializes itself.
type Engine struct {
	cfg    Config
	enum   enumerator.Enumerator
	gw     capture.Gateway
	ex     ocr.Extractor
	st     store.Store
	norm   *normalize.Normalizer
	logger *slog.Logger
}

// Config carries the per-machine identity and the per-call bounds.
type Config struct {
	MachineID     string
	OCRTimeout    time.Duration
	StoreTimeout  time.Duration
	ChannelRegion ocr.Region
	AccountRegion ocr.Region
	UploadImages  bool
}

func New(cfg Config, enum enumerator.Enumerator, gw capture.Gateway, ex ocr.Extractor, st store.Store, norm *normalize.Normalizer, logger *slog.Logger) (*Engine, error) {
	if cfg.MachineID == "" {
		return nil, errors.New("machine id is required")
	}
	if enum == nil || gw == nil || ex == nil || st == nil || norm == nil {
		return nil, errors.New("engine requires enumerator, gateway, extractor, store and normalizer")
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, enum: enum, gw: gw, ex: ex, st: st, norm: norm, logger: logger}, nil
}

// Result summarizes one cycle. Archived holds the records transitioned
// to INACTIVE this cycle (already-inactive rows are not included) for
// downstream disconnect notification.
type Result struct {
	Archived []record.Record
	Live     int
	Created  int
	Updated  int
	Failed   int
}

// plan is the per-cycle partition of live pids: each live pid maps to
// the id of its existing ACTIVE record, or "" when a record must be
// created. Recomputed every cycle, discarded after use.
type plan map[string]string

// RunCycle executes one reconciliation cycle. Enumeration and the
// initial machine query are fatal; every per-pid failure after that is
// logged, counted, and isolated from the other pids.
func (e *Engine) RunCycle(ctx context.Context) (Result, error) {
	start := time.Now()

	existing, err := e.queryExisting(ctx)
	if err != nil {
		metrics.IncCycleFailure()
		return Result{}, err
	}
	procs, err := e.enum.Snapshot(ctx)
	if err != nil {
		metrics.IncCycleFailure()
		return Result{}, fmt.Errorf("enumerate processes: %w", err)
	}
	liveIDs := enumerator.IDs(procs)
	live := make(map[string]bool, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = true
	}
	metrics.SetLiveProcesses(len(liveIDs))

	res := Result{Live: len(liveIDs)}

	// Archive phase: settle every INACTIVE transition before any
	// upsert runs, so a record can never be archived and refreshed in
	// the same cycle.
	res.Archived = e.archiveVanished(ctx, existing, live)
	metrics.AddArchived(len(res.Archived))

	// Match phase: classify each live pid as create or update.
	pl := e.matchRecords(ctx, liveIDs)

	// Capture phase: one screenshot at a time (the gateway serializes
	// window focus); a failed capture drops the pid for this cycle.
	images := make(map[string]string, len(liveIDs))
	for _, pid := range liveIDs {
		path, err := e.gw.Capture(ctx, pid)
		if err != nil {
			e.logger.Warn("screenshot capture failed", "pid", pid, "error", err)
			metrics.IncPipelineFailure("capture")
			res.Failed++
			continue
		}
		images[pid] = path
	}

	// Extraction phase: concurrent per pid; the two region OCRs for
	// one pid also run concurrently with each other.
	var mu sync.Mutex
	var wg sync.WaitGroup
	for pid, imagePath := range images {
		wg.Add(1)
		go func(pid, imagePath string) {
			defer wg.Done()
			created, err := e.refreshRecord(ctx, pid, imagePath, pl[pid])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				return
			}
			if created {
				res.Created++
			} else {
				res.Updated++
			}
		}(pid, imagePath)
	}
	wg.Wait()

	metrics.AddCreated(res.Created)
	metrics.AddUpdated(res.Updated)
	metrics.IncCycle()
	metrics.ObserveCycleDuration(time.Since(start).Seconds())
	e.logger.Info("cycle complete",
		"live", res.Live, "archived", len(res.Archived),
		"created", res.Created, "updated", res.Updated, "failed", res.Failed,
		"elapsed", time.Since(start))
	return res, nil
}

func (e *Engine) queryExisting(ctx context.Context) ([]record.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	recs, err := e.st.QueryByMachine(ctx, e.cfg.MachineID)
	if err != nil {
		return nil, fmt.Errorf("query existing records: %w", err)
	}
	return recs, nil
}

// archiveVanished issues a status update for every known record whose
// pid is absent from the live set and that is not already INACTIVE.
// Updates run concurrently; each failure affects only its own record.
func (e *Engine) archiveVanished(ctx context.Context, existing []record.Record, live map[string]bool) []record.Record {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var archived []record.Record
	for _, rec := range existing {
		if live[rec.ProcessID] || rec.Status == record.StatusInactive {
			continue
		}
		wg.Add(1)
		go func(rec record.Record) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
			defer cancel()
			updated, err := e.st.Update(ctx, rec.ID, record.Fields{
				Status: record.StatusPtr(record.StatusInactive),
			})
			if err != nil {
				e.logger.Warn("archive failed", "pid", rec.ProcessID, "record", rec.ID, "error", err)
				metrics.IncPipelineFailure("store")
				return
			}
			mu.Lock()
			archived = append(archived, updated)
			mu.Unlock()
		}(rec)
	}
	wg.Wait()
	return archived
}

// matchRecords maps each live pid to its existing ACTIVE record id,
// or "" when the pid is new. A lookup failure is treated as "create":
// the store's active-pair uniqueness rejects the create if a record
// does exist, which keeps the at-most-one-active invariant intact.
func (e *Engine) matchRecords(ctx context.Context, liveIDs []string) plan {
	var mu sync.Mutex
	var wg sync.WaitGroup
	pl := make(plan, len(liveIDs))
	for _, pid := range liveIDs {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
			defer cancel()
			rec, err := e.st.FindByMachineAndProcess(ctx, e.cfg.MachineID, pid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				pl[pid] = rec.ID
			case errors.Is(err, store.ErrNotFound):
				pl[pid] = ""
			default:
				e.logger.Warn("record lookup failed, treating as create", "pid", pid, "error", err)
				pl[pid] = ""
			}
		}(pid)
	}
	wg.Wait()
	return pl
}

// refreshRecord runs OCR over the two regions and upserts the record
// for one pid. Returns whether a record was created (vs updated).
func (e *Engine) refreshRecord(ctx context.Context, pid, imagePath, recordID string) (created bool, err error) {
	channel, accountID, err := e.extractFields(ctx, pid, imagePath)
	if err != nil {
		e.logger.Warn("ocr failed, keeping previous record fields", "pid", pid, "error", err)
		metrics.IncPipelineFailure("ocr")
		return false, err
	}

	imageRef := e.uploadScreenshot(ctx, pid, imagePath)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	if recordID == "" {
		rec := record.Record{
			MachineID: e.cfg.MachineID,
			ProcessID: pid,
			Channel:   channel,
			AccountID: accountID,
			Status:    record.StatusActive,
			ImageRef:  imageRef,
		}
		if _, err := e.st.Create(ctx, rec); err != nil {
			e.logger.Warn("record create failed", "pid", pid, "error", err)
			metrics.IncPipelineFailure("store")
			return false, err
		}
		return true, nil
	}

	fields := record.Fields{
		Channel:   &channel,
		AccountID: &accountID,
		Status:    record.StatusPtr(record.StatusActive),
	}
	if imageRef != "" {
		fields.ImageRef = &imageRef
	}
	if _, err := e.st.Update(ctx, recordID, fields); err != nil {
		e.logger.Warn("record update failed", "pid", pid, "record", recordID, "error", err)
		metrics.IncPipelineFailure("store")
		return false, err
	}
	return false, nil
}

// extractFields OCRs the channel and account regions concurrently and
// normalizes both results. Either region failing fails the pid.
func (e *Engine) extractFields(ctx context.Context, pid, imagePath string) (channel, accountID string, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OCRTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var rawChannel, rawAccount string
	var chErr, accErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		rawChannel, chErr = e.ex.ExtractRegion(ctx, imagePath, e.cfg.ChannelRegion)
	}()
	go func() {
		defer wg.Done()
		rawAccount, accErr = e.ex.ExtractRegion(ctx, imagePath, e.cfg.AccountRegion)
	}()
	wg.Wait()

	if chErr != nil {
		return "", "", fmt.Errorf("pid %s: channel region: %w", pid, chErr)
	}
	if accErr != nil {
		return "", "", fmt.Errorf("pid %s: account region: %w", pid, accErr)
	}
	return e.norm.Channel(rawChannel), e.norm.AccountID(rawAccount), nil
}

// uploadScreenshot attaches the screenshot when the store supports it.
// Upload failure degrades to an upsert without an image reference.
func (e *Engine) uploadScreenshot(ctx context.Context, pid, imagePath string) string {
	if !e.cfg.UploadImages {
		return ""
	}
	up, ok := e.st.(store.Uploader)
	if !ok {
		return ""
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		e.logger.Warn("screenshot read failed, upserting without image", "pid", pid, "error", err)
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	ref, err := up.UploadImage(ctx, filepath.Base(imagePath), data)
	if err != nil {
		e.logger.Warn("screenshot upload failed, upserting without image", "pid", pid, "error", err)
		return ""
	}
	return ref
}
