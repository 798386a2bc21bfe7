package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
// Продажи неизменяемы, поэтому UPDATE и DELETE здесь отсутствуют.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

func (r *saleRepository) Create(sale domain.Sale) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_date, subtotal, tax_amount, total, employee_id,
			customer_name, customer_mobile, payment_method, wallet_used, wallet_credited
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		sale.ID, sale.Date, sale.Subtotal, sale.TaxAmount, sale.Total,
		sale.EmployeeID, sale.CustomerName, sale.CustomerMobile,
		string(sale.PaymentMethod), sale.WalletUsed, sale.WalletCredited,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSaleAlreadyExists
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for i, item := range sale.Items {
		var (
			discountKind  sql.NullString
			discountValue sql.NullFloat64
		)
		if item.Discount != nil {
			discountKind = sql.NullString{String: string(item.Discount.Kind), Valid: true}
			discountValue = sql.NullFloat64{Float64: item.Discount.Value, Valid: true}
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, position, product_id, name, brand, unit_price, quantity,
				discount_kind, discount_value
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			sale.ID, i, item.ProductID, item.Name, item.Brand,
			item.UnitPrice, item.Quantity, discountKind, discountValue,
		); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create sale: %w", err)
	}

	return nil
}

func (r *saleRepository) Get(id string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		sale          domain.Sale
		paymentMethod string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, sale_date, subtotal, tax_amount, total, employee_id,
		       customer_name, customer_mobile, payment_method, wallet_used, wallet_credited
		FROM sales
		WHERE id = $1
	`, id).Scan(
		&sale.ID, &sale.Date, &sale.Subtotal, &sale.TaxAmount, &sale.Total,
		&sale.EmployeeID, &sale.CustomerName, &sale.CustomerMobile,
		&paymentMethod, &sale.WalletUsed, &sale.WalletCredited,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		return domain.Sale{}, fmt.Errorf("select sale: %w", err)
	}
	sale.PaymentMethod = domain.PaymentMethod(paymentMethod)

	items, err := r.loadItems(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items = items

	return sale, nil
}

func (r *saleRepository) List() ([]domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sale_date, subtotal, tax_amount, total, employee_id,
		       customer_name, customer_mobile, payment_method, wallet_used, wallet_credited
		FROM sales
		ORDER BY sale_date DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0)
	for rows.Next() {
		var (
			sale          domain.Sale
			paymentMethod string
		)
		if err := rows.Scan(
			&sale.ID, &sale.Date, &sale.Subtotal, &sale.TaxAmount, &sale.Total,
			&sale.EmployeeID, &sale.CustomerName, &sale.CustomerMobile,
			&paymentMethod, &sale.WalletUsed, &sale.WalletCredited,
		); err != nil {
			return nil, fmt.Errorf("scan sale row: %w", err)
		}
		sale.PaymentMethod = domain.PaymentMethod(paymentMethod)

		items, err := r.loadItems(ctx, sale.ID)
		if err != nil {
			return nil, err
		}
		sale.Items = items
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale rows: %w", err)
	}

	return sales, nil
}

func (r *saleRepository) loadItems(ctx context.Context, saleID string) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, brand, unit_price, quantity, discount_kind, discount_value
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var (
			item          domain.LineItem
			discountKind  sql.NullString
			discountValue sql.NullFloat64
		)
		if err := rows.Scan(
			&item.ProductID, &item.Name, &item.Brand,
			&item.UnitPrice, &item.Quantity, &discountKind, &discountValue,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		if discountKind.Valid {
			item.Discount = &domain.Discount{
				Kind:  domain.DiscountKind(discountKind.String),
				Value: discountValue.Float64,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}

	return items, nil
}

var _ domain.SaleRepository = (*saleRepository)(nil)
