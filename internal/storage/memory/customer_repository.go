package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// customerRepositoryInMemory — простая in-memory реализация CustomerRepository.
// Покупатели индексируются по ID и по мобильному номеру.
type customerRepositoryInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Customer
	byMobile map[string]string
}

// NewCustomerRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		items:    make(map[string]domain.Customer),
		byMobile: make(map[string]string),
	}
}

// Create сохраняет нового покупателя, если ID и номер ещё не заняты.
func (r *customerRepositoryInMemory) Create(customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[customer.ID]; exists {
		return domain.ErrCustomerVersionConflict
	}
	if _, exists := r.byMobile[customer.Mobile]; exists {
		return domain.ErrCustomerVersionConflict
	}
	r.items[customer.ID] = customer
	r.byMobile[customer.Mobile] = customer.ID
	return nil
}

// GetByMobile возвращает покупателя по номеру или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) GetByMobile(mobile string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byMobile[mobile]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return r.items[id], nil
}

// Save перезаписывает покупателя, проверяя версию (optimistic locking).
func (r *customerRepositoryInMemory) Save(customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[customer.ID]
	if !ok {
		return domain.ErrCustomerNotFound
	}
	if current.Version != customer.Version {
		return domain.ErrCustomerVersionConflict
	}
	if current.Mobile != customer.Mobile {
		delete(r.byMobile, current.Mobile)
		r.byMobile[customer.Mobile] = customer.ID
	}
	customer.Version++
	r.items[customer.ID] = customer
	return nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
