package chat

import (
	"sync"
	"time"

	"github.com/m-mizutani/nutriguide/pkg/model"
)

// Memory is the append-only turn log of one session
type Memory struct {
	mu    sync.RWMutex
	turns []*model.Turn
}

func NewMemory(turns []*model.Turn) *Memory {
	return &Memory{turns: append([]*model.Turn(nil), turns...)}
}

// AppendExchange records a user utterance and the assistant reply as consecutive turns
func (m *Memory) AppendExchange(user, assistant string, now time.Time) (*model.Turn, *model.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := 0
	if n := len(m.turns); n > 0 {
		next = m.turns[n-1].Ordinal + 1
	}

	u := &model.Turn{ID: model.NewTurnID(), Role: model.RoleUser, Text: user, Ordinal: next, CreatedAt: now}
	a := &model.Turn{ID: model.NewTurnID(), Role: model.RoleAssistant, Text: assistant, Ordinal: next + 1, CreatedAt: now}
	m.turns = append(m.turns, u, a)
	return u, a
}

// Recent returns the last n turns in order; n <= 0 returns none
func (m *Memory) Recent(n int) []*model.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := max(len(m.turns)-n, 0)
	return append([]*model.Turn(nil), m.turns[start:]...)
}

// Turns returns every turn in order
func (m *Memory) Turns() []*model.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*model.Turn(nil), m.turns...)
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}
