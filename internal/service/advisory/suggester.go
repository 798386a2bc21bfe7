// Package advisory подключает внешний сервис подсказок (допродажи,
// рыночные цены) как best-effort sidecar: вызовы ограничены по времени и
// закрыты circuit breaker'ом, а их результат никогда не участвует в
// расчёте чека.
package advisory

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const defaultTimeout = 500 * time.Millisecond

// Client оборачивает Suggester таймаутом и circuit breaker'ом.
type Client struct {
	suggester domain.Suggester
	breaker   *CircuitBreaker
	timeout   time.Duration
	logger    *log.Entry
}

// NewClient создаёт advisory-клиент. При nil breaker защита отключена.
func NewClient(suggester domain.Suggester, breaker *CircuitBreaker, timeout time.Duration, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "advisory")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		suggester: suggester,
		breaker:   breaker,
		timeout:   timeout,
		logger:    logger,
	}
}

// SuggestUpsell запрашивает рекомендации к черновику. Любая ошибка
// деградирует до пустого результата: биллинг продолжает работу.
func (c *Client) SuggestUpsell(ctx context.Context, bill domain.BillDraft) []domain.Suggestion {
	if c == nil || c.suggester == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var suggestions []domain.Suggestion
	call := func() error {
		var err error
		suggestions, err = c.suggester.SuggestUpsell(callCtx, bill)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute("suggest_upsell", call)
	} else {
		err = call()
	}
	if err != nil {
		c.logger.WithError(err).Debug("upsell suggestion unavailable")
		return nil
	}

	return suggestions
}
