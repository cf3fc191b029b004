package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// AuditRepository implements usecase.AuditRepository.
type AuditRepository struct {
	db DBTX
}

func encodeState(state domain.JSON) (sql.NullString, error) {
	if state == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// CreateTx inserts an audit log entry within tx.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	before, err := encodeState(log.BeforeState)
	if err != nil {
		return err
	}
	after, err := encodeState(log.AfterState)
	if err != nil {
		return err
	}

	_, err = conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, action, resource_type, resource_id, before_state, after_state, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.OwnerID, string(log.Action), log.ResourceType, log.ResourceID,
		before, after, string(log.Status), formatTime(log.CreatedAt),
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
	for column, value := range map[string]string{
		"owner_id":      filter.OwnerID,
		"action":        string(filter.Action),
		"resource_type": filter.ResourceType,
		"resource_id":   filter.ResourceID,
	} {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}

	query := `SELECT id, owner_id, action, resource_type, resource_id, before_state, after_state, status, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit, offset, _ := domain.ValidatePagination(filter.Limit, filter.Offset)
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.AuditLog
	for rows.Next() {
		var (
			log                       domain.AuditLog
			action, status, createdAt string
			before, after             sql.NullString
		)
		if err := rows.Scan(&log.ID, &log.OwnerID, &action, &log.ResourceType, &log.ResourceID, &before, &after, &status, &createdAt); err != nil {
			return nil, err
		}

		var p parser
		log.Action = domain.AuditAction(action)
		log.Status = domain.AuditStatus(status)
		log.CreatedAt = p.time(createdAt)
		if before.Valid {
			p.keep(json.Unmarshal([]byte(before.String), &log.BeforeState))
		}
		if after.Valid {
			p.keep(json.Unmarshal([]byte(after.String), &log.AfterState))
		}
		if p.err != nil {
			return nil, fmt.Errorf("decode audit log %s: %w", log.ID, p.err)
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}
