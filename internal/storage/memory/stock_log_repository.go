package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// stockLogRepositoryInMemory — append-only журнал остатков в памяти.
type stockLogRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string][]domain.StockLogEntry
}

// NewStockLogRepository возвращает in-memory журнал остатков.
func NewStockLogRepository() domain.StockLogRepository {
	return &stockLogRepositoryInMemory{
		entries: make(map[string][]domain.StockLogEntry),
	}
}

// Append добавляет запись аудита к журналу товара.
func (r *stockLogRepositoryInMemory) Append(productID string, entry domain.StockLogEntry) error {
	if productID == "" {
		return domain.ErrProductIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[productID] = append(r.entries[productID], entry)
	return nil
}

// History возвращает записи по товару, новые первыми.
func (r *stockLogRepositoryInMemory) History(productID string) ([]domain.StockLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.entries[productID]
	result := make([]domain.StockLogEntry, len(entries))
	copy(result, entries)

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

var _ domain.StockLogRepository = (*stockLogRepositoryInMemory)(nil)
