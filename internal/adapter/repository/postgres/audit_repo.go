package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// AuditRepository implements audit log persistence.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateTx inserts an audit log entry within tx.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	var beforeStateJSON, afterStateJSON []byte
	var err error

	if log.BeforeState != nil {
		beforeStateJSON, err = json.Marshal(log.BeforeState)
		if err != nil {
			return err
		}
	}

	if log.AfterState != nil {
		afterStateJSON, err = json.Marshal(log.AfterState)
		if err != nil {
			return err
		}
	}

	_, err = conn(r.db, tx).Exec(ctx, `
		INSERT INTO audit_logs (
			id, owner_id, action, resource_type, resource_id,
			before_state, after_state, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID,
		log.OwnerID,
		string(log.Action),
		log.ResourceType,
		log.ResourceID,
		beforeStateJSON,
		afterStateJSON,
		string(log.Status),
		timeToPgTimestamptz(log.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List retrieves audit logs with filtering, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.OwnerID != "" {
		add("owner_id", filter.OwnerID)
	}
	if filter.Action != "" {
		add("action", string(filter.Action))
	}
	if filter.ResourceType != "" {
		add("resource_type", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id", filter.ResourceID)
	}

	query := `
		SELECT id, owner_id, action, resource_type, resource_id,
		       before_state, after_state, status, created_at
		FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit, offset, _ := domain.ValidatePagination(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.AuditLog, error) {
		var (
			log                             domain.AuditLog
			action, status                  string
			beforeStateJSON, afterStateJSON []byte
			createdAt                       pgtype.Timestamptz
		)

		err := row.Scan(
			&log.ID,
			&log.OwnerID,
			&action,
			&log.ResourceType,
			&log.ResourceID,
			&beforeStateJSON,
			&afterStateJSON,
			&status,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}

		log.Action = domain.AuditAction(action)
		log.Status = domain.AuditStatus(status)
		log.CreatedAt = createdAt.Time
		if beforeStateJSON != nil {
			_ = json.Unmarshal(beforeStateJSON, &log.BeforeState)
		}
		if afterStateJSON != nil {
			_ = json.Unmarshal(afterStateJSON, &log.AfterState)
		}

		return &log, nil
	})
}
