package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iho/cashflow/internal/domain"
)

const runColumns = `id, run_date, status, owners, catch_up_dates, started_at, finished_at, created_at`

// RunRepository implements usecase.RunRepository.
type RunRepository struct {
	db DBTX
}

// runDetails is the JSON shape of a run's per-owner results and catch-up dates.
type runDetails struct {
	owners string
	dates  string
}

func encodeRun(run *domain.ProcessingRun) (runDetails, error) {
	owners := run.Owners
	if owners == nil {
		owners = []domain.OwnerResult{}
	}
	o, err := json.Marshal(owners)
	if err != nil {
		return runDetails{}, fmt.Errorf("encode run owners: %w", err)
	}

	dates := make([]string, len(run.CatchUpDates))
	for i, d := range run.CatchUpDates {
		dates[i] = domain.FormatDate(d)
	}
	d, err := json.Marshal(dates)
	if err != nil {
		return runDetails{}, fmt.Errorf("encode catch-up dates: %w", err)
	}

	return runDetails{owners: string(o), dates: string(d)}, nil
}

// Create inserts a new run.
func (r *RunRepository) Create(ctx context.Context, run *domain.ProcessingRun) error {
	details, err := encodeRun(run)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO processing_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, domain.FormatDate(run.RunDate), string(run.Status), details.owners, details.dates,
		nullTime(run.StartedAt), nullTime(run.FinishedAt), formatTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update stores the run's status, results and timestamps.
func (r *RunRepository) Update(ctx context.Context, run *domain.ProcessingRun) error {
	details, err := encodeRun(run)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE processing_runs
		SET status = ?, owners = ?, catch_up_dates = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		string(run.Status), details.owners, details.dates, nullTime(run.StartedAt), nullTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return mustAffect(res, domain.ErrRunNotFound)
}

// GetByID retrieves a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM processing_runs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrRunNotFound)
	}
	return run, nil
}

// List lists runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM processing_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.ProcessingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastCompletedRunDate returns the latest completed run date.
func (r *RunRepository) LastCompletedRunDate(ctx context.Context) (time.Time, bool, error) {
	var last sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(run_date) FROM processing_runs WHERE status = 'completed'`).Scan(&last); err != nil {
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}

	d, err := domain.ParseDate(last.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

func scanRun(s scanner) (*domain.ProcessingRun, error) {
	var (
		run                                     domain.ProcessingRun
		runDate, status, owners, dates, created string
		startedAt, finishedAt                   sql.NullString
	)

	if err := s.Scan(&run.ID, &runDate, &status, &owners, &dates, &startedAt, &finishedAt, &created); err != nil {
		return nil, err
	}

	var p parser
	run.RunDate = p.date(runDate)
	run.Status = domain.RunStatus(status)
	run.StartedAt = p.nullTime(startedAt)
	run.FinishedAt = p.nullTime(finishedAt)
	run.CreatedAt = p.time(created)
	p.keep(json.Unmarshal([]byte(owners), &run.Owners))

	var formatted []string
	p.keep(json.Unmarshal([]byte(dates), &formatted))
	for _, f := range formatted {
		run.CatchUpDates = append(run.CatchUpDates, p.date(f))
	}

	if p.err != nil {
		return nil, fmt.Errorf("decode run %s: %w", run.ID, p.err)
	}
	return &run, nil
}
