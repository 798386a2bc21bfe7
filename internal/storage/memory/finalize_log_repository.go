package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// finalizeLogRepositoryInMemory — in-memory журнал финализаций по Sale ID.
type finalizeLogRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.FinalizeRecord
}

// NewFinalizeLogRepository создаёт in-memory реализацию FinalizeLogRepository.
func NewFinalizeLogRepository() domain.FinalizeLogRepository {
	return &finalizeLogRepositoryInMemory{
		items: make(map[string]domain.FinalizeRecord),
	}
}

func (r *finalizeLogRepositoryInMemory) CreateProcessing(saleID string, ttlAt time.Time) (domain.FinalizeRecord, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.FinalizeRecord{}, domain.ErrFinalizeSaleIDRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[saleID]; ok {
		return cloneFinalizeRecord(existing), domain.ErrFinalizeRecordExists
	}

	record := domain.FinalizeRecord{
		SaleID:    saleID,
		Status:    domain.FinalizeStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.items[saleID] = cloneFinalizeRecord(record)
	return record, nil
}

func (r *finalizeLogRepositoryInMemory) Get(saleID string) (domain.FinalizeRecord, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.FinalizeRecord{}, domain.ErrFinalizeSaleIDRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[saleID]
	if !ok {
		return domain.FinalizeRecord{}, domain.ErrFinalizeRecordNotFound
	}
	return cloneFinalizeRecord(record), nil
}

func (r *finalizeLogRepositoryInMemory) MarkDone(saleID string, saleSnapshot []byte) error {
	return r.markStatus(saleID, domain.FinalizeStatusDone, saleSnapshot, "")
}

func (r *finalizeLogRepositoryInMemory) MarkFailed(saleID string, reason string) error {
	return r.markStatus(saleID, domain.FinalizeStatusFailed, nil, reason)
}

func (r *finalizeLogRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for saleID, record := range r.items {
		if record.TTLAt.After(before) {
			continue
		}

		delete(r.items, saleID)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

func (r *finalizeLogRepositoryInMemory) markStatus(saleID string, status domain.FinalizeStatus, snapshot []byte, reason string) error {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.ErrFinalizeSaleIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[saleID]
	if !ok {
		return domain.ErrFinalizeRecordNotFound
	}

	record.Status = status
	record.SaleSnapshot = append([]byte(nil), snapshot...)
	record.FailReason = reason
	record.UpdatedAt = time.Now().UTC()
	r.items[saleID] = record

	return nil
}

func cloneFinalizeRecord(src domain.FinalizeRecord) domain.FinalizeRecord {
	dst := src
	dst.SaleSnapshot = append([]byte(nil), src.SaleSnapshot...)
	return dst
}

var _ domain.FinalizeLogRepository = (*finalizeLogRepositoryInMemory)(nil)
