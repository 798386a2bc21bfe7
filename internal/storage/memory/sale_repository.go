package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// saleRepositoryInMemory — простая in-memory реализация SaleRepository.
// Продажи неизменяемы, поэтому записи только добавляются.
type saleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Sale
}

// NewSaleRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewSaleRepository() domain.SaleRepository {
	return &saleRepositoryInMemory{
		items: make(map[string]domain.Sale),
	}
}

// Create сохраняет снимок продажи, если ID ещё не занят.
func (r *saleRepositoryInMemory) Create(sale domain.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sale.ID]; exists {
		return domain.ErrSaleAlreadyExists
	}
	r.items[sale.ID] = cloneSale(sale)
	return nil
}

// Get возвращает продажу или ErrSaleNotFound, если её нет.
func (r *saleRepositoryInMemory) Get(id string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

// List возвращает продажи, новые первыми.
func (r *saleRepositoryInMemory) List() ([]domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Sale, 0, len(r.items))
	for _, sale := range r.items {
		result = append(result, cloneSale(sale))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// cloneSale копирует снимок, чтобы вызывающий не мог мутировать хранимые строки.
func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = make([]domain.LineItem, len(src.Items))
	copy(dst.Items, src.Items)
	for i := range dst.Items {
		if dst.Items[i].Discount != nil {
			d := *dst.Items[i].Discount
			dst.Items[i].Discount = &d
		}
	}
	return dst
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)
