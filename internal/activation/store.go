package activation

import "context"

// Store is the persistence boundary for activation records.
type Store interface {
	Create(ctx context.Context, act *Activation) error
	Get(ctx context.Context, tenantID, pluginID string) (*Activation, error)
	Update(ctx context.Context, act *Activation) error
	Delete(ctx context.Context, tenantID, pluginID string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Activation, error)
	// ListByPlugin supports catalog cross-reference checks across tenants.
	ListByPlugin(ctx context.Context, pluginID string) ([]*Activation, error)
	Close() error
}
