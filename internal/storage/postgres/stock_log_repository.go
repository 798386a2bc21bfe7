package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type stockLogRepository struct {
	db *sql.DB
}

// NewStockLogRepository создаёт PostgreSQL-реализацию StockLogRepository.
// Журнал append-only: записи никогда не обновляются и не удаляются.
func NewStockLogRepository(store *Store) domain.StockLogRepository {
	return &stockLogRepository{db: store.DB()}
}

func (r *stockLogRepository) Append(productID string, entry domain.StockLogEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_log (
			id, product_id, entry_date, change, previous_stock, new_stock, reason, user_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		entry.ID, productID, entry.Date, entry.Change,
		entry.PreviousStock, entry.NewStock, entry.Reason, entry.UserID,
	)
	if err != nil {
		return fmt.Errorf("append stock log entry: %w", err)
	}

	return nil
}

func (r *stockLogRepository) History(productID string) ([]domain.StockLogEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entry_date, change, previous_stock, new_stock, reason, user_id
		FROM stock_log
		WHERE product_id = $1
		ORDER BY entry_date DESC, id DESC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("load stock history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.StockLogEntry, 0)
	for rows.Next() {
		var entry domain.StockLogEntry
		if err := rows.Scan(
			&entry.ID, &entry.Date, &entry.Change,
			&entry.PreviousStock, &entry.NewStock, &entry.Reason, &entry.UserID,
		); err != nil {
			return nil, fmt.Errorf("scan stock log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock log rows: %w", err)
	}

	return entries, nil
}

var _ domain.StockLogRepository = (*stockLogRepository)(nil)
