package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Create(customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (
			id, name, mobile, wallet_balance, is_premium, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		customer.ID, customer.Name, customer.Mobile, customer.WalletBalance,
		customer.IsPremium, customer.Version, customer.CreatedAt, customer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCustomerVersionConflict
		}
		return fmt.Errorf("insert customer: %w", err)
	}

	return nil
}

func (r *customerRepository) GetByMobile(mobile string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var customer domain.Customer

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, mobile, wallet_balance, is_premium, version, created_at, updated_at
		FROM customers
		WHERE mobile = $1
	`, mobile).Scan(
		&customer.ID, &customer.Name, &customer.Mobile, &customer.WalletBalance,
		&customer.IsPremium, &customer.Version, &customer.CreatedAt, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}

	return customer, nil
}

func (r *customerRepository) Save(customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $1,
		    mobile = $2,
		    wallet_balance = $3,
		    is_premium = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $6
		  AND version = $7
	`,
		customer.Name, customer.Mobile, customer.WalletBalance,
		customer.IsPremium, customer.UpdatedAt, customer.ID, customer.Version,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.customerExists(ctx, customer.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrCustomerNotFound
		}
		return domain.ErrCustomerVersionConflict
	}

	return nil
}

func (r *customerRepository) customerExists(ctx context.Context, id string) (bool, error) {
	var got string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1`, id).Scan(&got)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check customer exists: %w", err)
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
