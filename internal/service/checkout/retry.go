package checkout

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryableFinalizer оборачивает финализатор retry логикой.
// Повторы безопасны: финализация идемпотентна по Sale ID.
type RetryableFinalizer struct {
	finalizer Finalizer
	config    RetryConfig
	logger    *log.Entry
}

// NewRetryableFinalizer создаёт финализатор с retry логикой.
func NewRetryableFinalizer(finalizer Finalizer, config RetryConfig, logger *log.Entry) *RetryableFinalizer {
	if logger == nil {
		logger = log.New().WithField("component", "retryable-finalizer")
	}

	return &RetryableFinalizer{
		finalizer: finalizer,
		config:    config,
		logger:    logger,
	}
}

// Finalize выполняет checkout с повторами при временных ошибках.
func (rf *RetryableFinalizer) Finalize(bill domain.BillDraft, paymentMethod domain.PaymentMethod, operator domain.Operator) (domain.Sale, error) {
	var (
		sale    domain.Sale
		lastErr error
	)
	delay := rf.config.InitialDelay

	for attempt := 1; attempt <= rf.config.MaxAttempts; attempt++ {
		var err error
		sale, err = rf.finalizer.Finalize(bill, paymentMethod, operator)
		if err == nil {
			if attempt > 1 {
				rf.logger.WithFields(log.Fields{
					"sale_id": bill.PendingSaleID,
					"attempt": attempt,
				}).Info("finalize succeeded after retry")
			}
			return sale, nil
		}

		lastErr = err

		if !rf.shouldRetry(err) {
			rf.logger.WithFields(log.Fields{
				"sale_id": bill.PendingSaleID,
				"error":   err,
			}).Warn("finalize failed with non-retryable error")
			return domain.Sale{}, err
		}

		if attempt < rf.config.MaxAttempts {
			rf.logger.WithFields(log.Fields{
				"sale_id": bill.PendingSaleID,
				"attempt": attempt,
				"delay":   delay,
				"error":   err,
			}).Warn("finalize failed, retrying")

			time.Sleep(delay)

			delay = time.Duration(float64(delay) * rf.config.BackoffFactor)
			if delay > rf.config.MaxDelay {
				delay = rf.config.MaxDelay
			}
		}
	}

	rf.logger.WithFields(log.Fields{
		"sale_id":      bill.PendingSaleID,
		"max_attempts": rf.config.MaxAttempts,
		"error":        lastErr,
	}).Error("finalize failed after all retry attempts")
	return domain.Sale{}, lastErr
}

// shouldRetry определяет, стоит ли повторять операцию при данной ошибке.
func (rf *RetryableFinalizer) shouldRetry(err error) bool {
	// Бизнес-ошибки валидации повторением не лечатся.
	if errors.Is(err, domain.ErrBillEmpty) ||
		errors.Is(err, domain.ErrPaymentMethodUnknown) ||
		errors.Is(err, domain.ErrOperatorRequired) ||
		errors.Is(err, domain.ErrSaleIDRequired) ||
		errors.Is(err, domain.ErrFinalizeInProgress) {
		return false
	}

	// Конфликт версий и ошибки хранилища — временные, повторяем.
	return true
}

var _ Finalizer = (*RetryableFinalizer)(nil)
