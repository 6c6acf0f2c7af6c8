package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// memStore is an in-memory store.Store with the same CAS and uniqueness
// semantics as the real adapter.
type memStore struct {
	mu       sync.Mutex
	items    map[string]*approval.Item
	outbox   []store.OutboxEvent
	nextID   int64
	dead     map[string]*event.DeadLetter
	policies map[string]routing.Policy

	createErr error
	decideErr error
	markErr   error
}

func newMemStore() *memStore {
	return &memStore{
		items:    make(map[string]*approval.Item),
		dead:     make(map[string]*event.DeadLetter),
		policies: make(map[string]routing.Policy),
	}
}

func itemKey(tenantID, id string) string { return tenantID + "/" + id }

func (m *memStore) CreateItemWithOutbox(_ context.Context, item *approval.Item, outbox []event.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	key := itemKey(item.TenantID, item.ID)
	if _, ok := m.items[key]; ok {
		return fmt.Errorf("approval item %s: %w", item.ID, domain.ErrAlreadyExists)
	}
	cp := *item
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.items[key] = &cp
	m.appendOutboxLocked(outbox)
	return nil
}

func (m *memStore) GetItem(_ context.Context, tenantID, id string) (*approval.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemKey(tenantID, id)]
	if !ok {
		return nil, fmt.Errorf("approval item %s: %w", id, domain.ErrNotFound)
	}
	cp := *it
	return &cp, nil
}

func (m *memStore) ListItems(_ context.Context, tenantID string, f store.ItemFilter) ([]approval.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Item
	for _, it := range m.items {
		if it.TenantID != tenantID {
			continue
		}
		if it.ArchivedAt != nil {
			continue
		}
		if f.State != "" && it.State != f.State {
			continue
		}
		if f.Tier != "" && it.Tier != f.Tier {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

func (m *memStore) ArchiveItem(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemKey(tenantID, id)]
	if !ok {
		return fmt.Errorf("approval item %s: %w", id, domain.ErrNotFound)
	}
	if it.ArchivedAt != nil {
		return nil
	}
	if !it.State.Terminal() {
		return fmt.Errorf("%w: approval item %s in state %s cannot be archived before a decision", domain.ErrValidation, id, it.State)
	}
	now := time.Now().UTC()
	it.ArchivedAt = &now
	it.UpdatedAt = now
	return nil
}

func (m *memStore) DecideWithOutbox(_ context.Context, tenantID, id string, from []approval.State, dec approval.Decision, env event.Envelope) (*approval.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decideErr != nil {
		return nil, m.decideErr
	}
	it, ok := m.items[itemKey(tenantID, id)]
	if !ok {
		return nil, fmt.Errorf("approval item %s: %w", id, domain.ErrNotFound)
	}
	legal := false
	for _, s := range from {
		if it.State == s {
			legal = true
		}
	}
	if !legal {
		return nil, fmt.Errorf("approval item %s in state %s: %w", id, it.State, domain.ErrAlreadyDecided)
	}
	state, err := dec.Outcome.State()
	if err != nil {
		return nil, err
	}
	it.State = state
	it.DecidedBy = dec.By
	it.Reason = dec.Reason
	at := dec.At
	it.DecidedAt = &at
	it.UpdatedAt = time.Now().UTC()
	m.appendOutboxLocked([]event.Envelope{env})
	cp := *it
	return &cp, nil
}

func (m *memStore) ListExpiryDue(_ context.Context, now time.Time, limit int) ([]approval.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Item
	for _, it := range m.items {
		if it.State != approval.StatePendingQuick && it.State != approval.StatePendingFull {
			continue
		}
		if it.ExpiresAt == nil || it.ExpiresAt.After(now) {
			continue
		}
		out = append(out, *it)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListItemsByCorrelation(_ context.Context, tenantID, correlationID string) ([]approval.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Item
	for _, it := range m.items {
		if it.TenantID == tenantID && it.CorrelationID == correlationID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *memStore) appendOutboxLocked(envs []event.Envelope) {
	for _, env := range envs {
		m.nextID++
		m.outbox = append(m.outbox, store.OutboxEvent{
			ID:        m.nextID,
			Envelope:  env,
			CreatedAt: time.Now().UTC(),
		})
	}
}

func (m *memStore) PendingOutbox(_ context.Context, limit int) ([]store.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OutboxEvent
	for _, row := range m.outbox {
		if row.PublishedAt != nil {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkOutboxPublished(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	now := time.Now().UTC()
	for i := range m.outbox {
		for _, id := range ids {
			if m.outbox[i].ID == id {
				m.outbox[i].PublishedAt = &now
			}
		}
	}
	return nil
}

func (m *memStore) ListOutboxByCorrelation(_ context.Context, tenantID, correlationID string) ([]store.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OutboxEvent
	for _, row := range m.outbox {
		if row.Envelope.TenantID == tenantID && row.Envelope.CorrelationID == correlationID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memStore) CreateDeadLetter(_ context.Context, rec *event.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.dead[rec.EventID]; ok {
		prev.LastError = rec.LastError
		prev.Attempts = rec.Attempts
		prev.MovedAt = rec.MovedAt
		return nil
	}
	cp := *rec
	m.dead[rec.EventID] = &cp
	return nil
}

func (m *memStore) GetDeadLetter(_ context.Context, tenantID, eventID string) (*event.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.dead[eventID]
	if !ok || rec.TenantID != tenantID {
		return nil, fmt.Errorf("dead letter %s: %w", eventID, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) ListDeadLetters(_ context.Context, tenantID string, limit, offset int) ([]event.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.DeadLetter
	for _, rec := range m.dead {
		if rec.TenantID == tenantID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStore) MarkDeadLetterReplayed(_ context.Context, tenantID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.dead[eventID]
	if !ok || rec.TenantID != tenantID {
		return fmt.Errorf("dead letter %s: %w", eventID, domain.ErrNotFound)
	}
	now := time.Now().UTC()
	rec.ReplayedAt = &now
	return nil
}

func (m *memStore) GetPolicy(_ context.Context, tenantID, module string) (*routing.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[tenantID+"/"+module]
	if !ok {
		return nil, fmt.Errorf("policy %s/%s: %w", tenantID, module, domain.ErrNotFound)
	}
	return &p, nil
}

func (m *memStore) PutPolicy(_ context.Context, tenantID, module string, p routing.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[tenantID+"/"+module] = p
	return nil
}

// mockBus records publishes and can fail after a set number of them.
type mockBus struct {
	mu         sync.Mutex
	published  []event.Envelope
	dead       []event.Envelope
	failAfter  int // publish calls that succeed before failing; -1 never fails
	publishErr error
}

func newMockBus() *mockBus {
	return &mockBus{failAfter: -1}
}

func (b *mockBus) Publish(_ context.Context, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAfter >= 0 && len(b.published) >= b.failAfter {
		if b.publishErr != nil {
			return b.publishErr
		}
		return fmt.Errorf("bus unavailable")
	}
	b.published = append(b.published, env)
	return nil
}

func (b *mockBus) PublishDead(_ context.Context, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = append(b.dead, env)
	return nil
}

func (b *mockBus) Subscribe(context.Context, string, []event.Type, bus.Handler) (func(), error) {
	return func() {}, nil
}

func (b *mockBus) Drain() error      { return nil }
func (b *mockBus) Close() error      { return nil }
func (b *mockBus) IsConnected() bool { return true }

// mockNotifier records broadcast events per type.
type mockNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *mockNotifier) BroadcastEvent(_ context.Context, _ string, eventType string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *mockNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == eventType {
			c++
		}
	}
	return c
}
