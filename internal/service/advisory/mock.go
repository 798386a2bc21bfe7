package advisory

import (
	"context"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// MockSuggester — конфигурируемая заглушка Suggester для тестов и
// локального запуска без внешнего сервиса подсказок.
type MockSuggester struct {
	Suggestions []domain.Suggestion
	Err         error

	SuggestCalls int
}

// NewMockSuggester возвращает mock с пустым успешным ответом по умолчанию.
func NewMockSuggester() *MockSuggester {
	return &MockSuggester{}
}

// SuggestUpsell возвращает заранее настроенный ответ и считает вызовы.
func (m *MockSuggester) SuggestUpsell(ctx context.Context, bill domain.BillDraft) ([]domain.Suggestion, error) {
	m.SuggestCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Suggestions, nil
}

var _ domain.Suggester = (*MockSuggester)(nil)
