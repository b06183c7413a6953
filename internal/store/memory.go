package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/schedule"
)

// Memory is a mutex-guarded in-memory implementation of the same contracts
// the Postgres store serves. It exists for unit tests and local runs without
// a database; the version-guarded updates are atomic under the lock, so the
// dispatcher claim race behaves exactly as it does against Postgres.
type Memory struct {
	mu         sync.Mutex
	guests     map[string]core.Guest
	scheduled  map[string]core.ScheduledMessage
	messages   map[string]core.Message
	deliveries map[string]core.MessageDelivery
}

func NewMemory() *Memory {
	return &Memory{
		guests:     make(map[string]core.Guest),
		scheduled:  make(map[string]core.ScheduledMessage),
		messages:   make(map[string]core.Message),
		deliveries: make(map[string]core.MessageDelivery),
	}
}

// ---- roster ----

func (m *Memory) GuestsByEvent(_ context.Context, eventID string) ([]core.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Guest
	for _, g := range m.guests {
		if g.EventID == eventID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertGuest(_ context.Context, g core.Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guests[g.ID] = g
	return nil
}

// ---- scheduled messages ----

func (m *Memory) CreateScheduled(_ context.Context, sm *core.ScheduledMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prev := range m.scheduled {
		if prev.EventID == sm.EventID && prev.IdempotencyKey == sm.IdempotencyKey {
			return fmt.Errorf("%w: %s", schedule.ErrDuplicateKey, sm.IdempotencyKey)
		}
	}
	m.scheduled[sm.ID] = *sm
	return nil
}

func (m *Memory) GetScheduled(_ context.Context, id string) (*core.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.scheduled[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &sm, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, eventID, key string) (*core.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sm := range m.scheduled {
		if sm.EventID == eventID && sm.IdempotencyKey == key {
			out := sm
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *Memory) ListScheduledByEvent(_ context.Context, eventID string) ([]core.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ScheduledMessage
	for _, sm := range m.scheduled {
		if sm.EventID == eventID {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out, nil
}

func (m *Memory) UpdateScheduled(_ context.Context, sm *core.ScheduledMessage, expectVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.scheduled[sm.ID]
	if !ok || cur.Version != expectVersion || cur.Status != core.StatusScheduled {
		return false, nil
	}
	m.scheduled[sm.ID] = *sm
	return true, nil
}

func (m *Memory) DueScheduled(_ context.Context, now time.Time, limit int) ([]core.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ScheduledMessage
	for _, sm := range m.scheduled {
		if sm.Status == core.StatusScheduled && !sm.SendAt.After(now) {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimScheduled(_ context.Context, id string, expectVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.scheduled[id]
	if !ok || sm.Version != expectVersion || sm.Status != core.StatusScheduled {
		return false, nil
	}
	sm.Status = core.StatusSending
	sm.Version++
	sm.ModifiedAt = time.Now()
	m.scheduled[id] = sm
	return true, nil
}

func (m *Memory) FinishScheduled(_ context.Context, id, status string, success, failure int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.scheduled[id]
	if !ok || sm.Status != core.StatusSending {
		return fmt.Errorf("%w: scheduled message %s not in sending", core.ErrNotFound, id)
	}
	sm.Status = status
	sm.SuccessCount = success
	sm.FailureCount = failure
	sm.Version++
	sm.ModifiedAt = time.Now()
	m.scheduled[id] = sm
	return nil
}

// ---- messages & deliveries ----

func (m *Memory) CreateMessage(_ context.Context, msg *core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = *msg
	return nil
}

func (m *Memory) SetMessageCounts(_ context.Context, id string, delivered, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return core.ErrNotFound
	}
	msg.DeliveredCount = delivered
	msg.FailedCount = failed
	m.messages[id] = msg
	return nil
}

func (m *Memory) ListMessagesByEvent(_ context.Context, eventID string) ([]core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Message
	for _, msg := range m.messages {
		if msg.EventID == eventID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateDeliveries(_ context.Context, ds []core.MessageDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range ds {
		m.deliveries[d.ID] = d
	}
	return nil
}

func (m *Memory) MarkDelivery(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return core.ErrNotFound
	}
	d.Status = status
	m.deliveries[id] = d
	return nil
}

func (m *Memory) ListDeliveriesByMessage(_ context.Context, messageID string) ([]core.MessageDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.MessageDelivery
	for _, d := range m.deliveries {
		if d.MessageID == messageID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuestID != out[j].GuestID {
			return out[i].GuestID < out[j].GuestID
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}
