package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/cashflow/internal/domain"
)

const runColumns = `id, run_date, status, owners, catch_up_dates, started_at, finished_at, created_at`

// RunRepository implements usecase.RunRepository. Per-owner results and
// catch-up dates are stored as JSONB.
type RunRepository struct {
	db DBTX
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db DBTX) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run.
func (r *RunRepository) Create(ctx context.Context, run *domain.ProcessingRun) error {
	owners, dates, err := encodeRunDetails(run)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO processing_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID,
		dateToPg(run.RunDate),
		string(run.Status),
		owners,
		dates,
		timePtrToPgTimestamptz(run.StartedAt),
		timePtrToPgTimestamptz(run.FinishedAt),
		timeToPgTimestamptz(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update stores the run's status, results and timestamps.
func (r *RunRepository) Update(ctx context.Context, run *domain.ProcessingRun) error {
	owners, dates, err := encodeRunDetails(run)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE processing_runs
		SET status = $2, owners = $3, catch_up_dates = $4, started_at = $5, finished_at = $6
		WHERE id = $1`,
		run.ID,
		string(run.Status),
		owners,
		dates,
		timePtrToPgTimestamptz(run.StartedAt),
		timePtrToPgTimestamptz(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// GetByID retrieves a run by ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingRun, error) {
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM processing_runs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	run, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if err != nil {
		return nil, notFound(err, domain.ErrRunNotFound)
	}
	return run, nil
}

// List lists runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+runColumns+`
		FROM processing_runs
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRun)
}

// LastCompletedRunDate returns the latest completed run date.
func (r *RunRepository) LastCompletedRunDate(ctx context.Context) (time.Time, bool, error) {
	var date pgtype.Date
	err := r.db.QueryRow(ctx, `SELECT MAX(run_date) FROM processing_runs WHERE status = 'completed'`).Scan(&date)
	if err != nil {
		return time.Time{}, false, err
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	return domain.DateOf(date.Time), true, nil
}

func encodeRunDetails(run *domain.ProcessingRun) (owners, dates []byte, err error) {
	results := run.Owners
	if results == nil {
		results = []domain.OwnerResult{}
	}
	owners, err = json.Marshal(results)
	if err != nil {
		return nil, nil, fmt.Errorf("encode run owners: %w", err)
	}

	formatted := make([]string, 0, len(run.CatchUpDates))
	for _, d := range run.CatchUpDates {
		formatted = append(formatted, domain.FormatDate(d))
	}
	dates, err = json.Marshal(formatted)
	if err != nil {
		return nil, nil, fmt.Errorf("encode catch-up dates: %w", err)
	}

	return owners, dates, nil
}

func scanRun(row pgx.CollectableRow) (*domain.ProcessingRun, error) {
	var (
		run        domain.ProcessingRun
		runDate    pgtype.Date
		status     string
		owners     []byte
		dates      []byte
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
	)

	if err := row.Scan(&run.ID, &runDate, &status, &owners, &dates, &startedAt, &finishedAt, &createdAt); err != nil {
		return nil, err
	}

	run.RunDate = domain.DateOf(runDate.Time)
	run.Status = domain.RunStatus(status)
	run.StartedAt = pgTimestamptzToPtr(startedAt)
	run.FinishedAt = pgTimestamptzToPtr(finishedAt)
	run.CreatedAt = createdAt.Time

	if len(owners) > 0 {
		if err := json.Unmarshal(owners, &run.Owners); err != nil {
			return nil, fmt.Errorf("decode run owners: %w", err)
		}
	}

	var formatted []string
	if len(dates) > 0 {
		if err := json.Unmarshal(dates, &formatted); err != nil {
			return nil, fmt.Errorf("decode catch-up dates: %w", err)
		}
	}
	for _, s := range formatted {
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("decode catch-up date %q: %w", s, err)
		}
		run.CatchUpDates = append(run.CatchUpDates, d)
	}

	return &run, nil
}
