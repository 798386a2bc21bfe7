package billing

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Registry выдаёт сессию по идентификатору терминала.
// Каждый терминал держит ровно один активный черновик.
type Registry struct {
	mu             sync.Mutex
	sessions       map[string]*Session
	gstRatePercent float64
	logger         *log.Entry
}

// NewRegistry создаёт реестр сессий с общей ставкой GST.
func NewRegistry(gstRatePercent float64, logger *log.Entry) *Registry {
	if logger == nil {
		logger = log.WithField("component", "billing-registry")
	}
	return &Registry{
		sessions:       make(map[string]*Session),
		gstRatePercent: gstRatePercent,
		logger:         logger,
	}
}

// Session возвращает сессию терминала, создавая её при первом обращении.
func (r *Registry) Session(terminalID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[terminalID]
	if !ok {
		s = NewSession(r.gstRatePercent, r.logger.WithField("terminal_id", terminalID))
		r.sessions[terminalID] = s
	}
	return s
}

// Len возвращает число активных сессий.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
