// Package memory keeps every aggregate in process memory. It backs tests and
// `tutord serve --memory` development runs; all writes of one call are atomic.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

type Store struct {
	mu            sync.Mutex
	rules         map[int64]*model.AvailabilityRules
	accounts      map[int64]*model.PayoutAccount
	lessons       map[uuid.UUID]*model.Lesson
	trials        map[int64]model.TrialUsage
	settlements   map[uuid.UUID]*model.SettlementRecord
	notifications []*model.Notification
}

var (
	_ service.RulesStore         = (*Store)(nil)
	_ service.LessonStore        = (*Store)(nil)
	_ service.SettlementStore    = (*Store)(nil)
	_ service.PayoutAccountStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		rules:       make(map[int64]*model.AvailabilityRules),
		accounts:    make(map[int64]*model.PayoutAccount),
		lessons:     make(map[uuid.UUID]*model.Lesson),
		trials:      make(map[int64]model.TrialUsage),
		settlements: make(map[uuid.UUID]*model.SettlementRecord),
	}
}
