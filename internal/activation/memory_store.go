package activation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "orchestrall/internal/errors"
)

// MemoryStore keeps activations in process memory. Used by tests and
// single-node deployments without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Activation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Activation)}
}

func pairKey(tenantID, pluginID string) string {
	return tenantID + "\x00" + pluginID
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, act *Activation) error {
	if act == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "activation cannot be nil")
	}
	if strings.TrimSpace(act.TenantID) == "" || strings.TrimSpace(act.PluginID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "tenant id and plugin id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(act.TenantID, act.PluginID)
	if _, ok := m.records[key]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	if act.CreatedAt == 0 {
		act.CreatedAt = now
	}
	act.UpdatedAt = now
	m.records[key] = act.Clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, tenantID, pluginID string) (*Activation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[pairKey(tenantID, pluginID)]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, act *Activation) error {
	if act == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "activation cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(act.TenantID, act.PluginID)
	existing, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	updated := act.Clone()
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().Unix()
	m.records[key] = updated
	act.UpdatedAt = updated.UpdatedAt
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, tenantID, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(tenantID, pluginID)
	if _, ok := m.records[key]; !ok {
		return ErrNotFound
	}
	delete(m.records, key)
	return nil
}

// ListByTenant implements Store.
func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Activation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(a *Activation) bool { return a.TenantID == tenantID }), nil
}

// ListByPlugin implements Store.
func (m *MemoryStore) ListByPlugin(_ context.Context, pluginID string) ([]*Activation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(a *Activation) bool { return a.PluginID == pluginID }), nil
}

func (m *MemoryStore) collect(match func(*Activation) bool) []*Activation {
	results := make([]*Activation, 0, len(m.records))
	for _, record := range m.records {
		if match(record) {
			results = append(results, record.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].TenantID == results[j].TenantID {
			return results[i].PluginID < results[j].PluginID
		}
		return results[i].TenantID < results[j].TenantID
	})
	return results
}

// Close implements Store; nothing to release for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
