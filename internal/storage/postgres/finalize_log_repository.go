package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type finalizeLogRepository struct {
	db *sql.DB
}

// NewFinalizeLogRepository создаёт PostgreSQL-реализацию FinalizeLogRepository.
func NewFinalizeLogRepository(store *Store) domain.FinalizeLogRepository {
	return &finalizeLogRepository{db: store.DB()}
}

func (r *finalizeLogRepository) CreateProcessing(saleID string, ttlAt time.Time) (domain.FinalizeRecord, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.FinalizeRecord{}, domain.ErrFinalizeSaleIDRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO finalize_log (
			sale_id, status, sale_snapshot, fail_reason, ttl_at, created_at, updated_at
		) VALUES ($1,$2,NULL,'',$3,$4,$5)
	`,
		saleID, string(domain.FinalizeStatusProcessing), ttlAt, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(saleID)
			if getErr != nil {
				return domain.FinalizeRecord{}, domain.ErrFinalizeRecordExists
			}
			return existing, domain.ErrFinalizeRecordExists
		}
		return domain.FinalizeRecord{}, fmt.Errorf("create finalize record: %w", err)
	}

	return domain.FinalizeRecord{
		SaleID:    saleID,
		Status:    domain.FinalizeStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *finalizeLogRepository) Get(saleID string) (domain.FinalizeRecord, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.FinalizeRecord{}, domain.ErrFinalizeSaleIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		record    domain.FinalizeRecord
		statusRaw string
		snapshot  []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT sale_id, status, sale_snapshot, fail_reason, ttl_at, created_at, updated_at
		FROM finalize_log
		WHERE sale_id = $1
	`, saleID).Scan(
		&record.SaleID,
		&statusRaw,
		&snapshot,
		&record.FailReason,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FinalizeRecord{}, domain.ErrFinalizeRecordNotFound
		}
		return domain.FinalizeRecord{}, fmt.Errorf("get finalize record: %w", err)
	}

	record.Status = domain.FinalizeStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.FinalizeRecord{}, fmt.Errorf("invalid finalize status %q for sale %s", statusRaw, saleID)
	}
	record.SaleSnapshot = append([]byte(nil), snapshot...)

	return record, nil
}

func (r *finalizeLogRepository) MarkDone(saleID string, saleSnapshot []byte) error {
	return r.markStatus(saleID, domain.FinalizeStatusDone, saleSnapshot, "")
}

func (r *finalizeLogRepository) MarkFailed(saleID string, reason string) error {
	return r.markStatus(saleID, domain.FinalizeStatusFailed, nil, reason)
}

func (r *finalizeLogRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM finalize_log
			WHERE sale_id IN (
				SELECT sale_id
				FROM finalize_log
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM finalize_log
			WHERE ttl_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired finalize records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("finalize log rows affected: %w", err)
	}

	return int(affected), nil
}

func (r *finalizeLogRepository) markStatus(saleID string, status domain.FinalizeStatus, snapshot []byte, reason string) error {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.ErrFinalizeSaleIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE finalize_log
		SET status = $1,
		    sale_snapshot = $2,
		    fail_reason = $3,
		    updated_at = $4
		WHERE sale_id = $5
	`,
		string(status), snapshot, reason, time.Now().UTC(), saleID,
	)
	if err != nil {
		return fmt.Errorf("mark finalize record status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize log rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrFinalizeRecordNotFound
	}

	return nil
}

var _ domain.FinalizeLogRepository = (*finalizeLogRepository)(nil)
