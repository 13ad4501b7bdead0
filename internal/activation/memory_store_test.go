package activation

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreCreateRejectsDuplicatePair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	act := &Activation{ID: "a1", TenantID: "acme", PluginID: "payments/razorpay", Status: StatusInstalled}
	if err := store.Create(ctx, act); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.Create(ctx, &Activation{ID: "a2", TenantID: "acme", PluginID: "payments/razorpay", Status: StatusInstalled})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Same plugin for a different tenant is independent.
	if err := store.Create(ctx, &Activation{ID: "a3", TenantID: "globex", PluginID: "payments/razorpay", Status: StatusInstalled}); err != nil {
		t.Fatalf("create for second tenant: %v", err)
	}
}

func TestMemoryStoreGetReturnsClones(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	act := &Activation{
		ID:       "a1",
		TenantID: "acme",
		PluginID: "payments/razorpay",
		Status:   StatusInstalled,
		Config:   map[string]any{"apiKey": "k"},
	}
	if err := store.Create(ctx, act); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Config["apiKey"] = "tampered"

	again, err := store.Get(ctx, "acme", "payments/razorpay")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Config["apiKey"] != "k" {
		t.Fatalf("stored config mutated through returned clone: %v", again.Config)
	}
}

func TestMemoryStoreUpdateAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Update(ctx, &Activation{TenantID: "acme", PluginID: "crm/leads"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing pair: %v", err)
	}

	act := &Activation{ID: "a1", TenantID: "acme", PluginID: "crm/leads", Status: StatusInstalled}
	if err := store.Create(ctx, act); err != nil {
		t.Fatalf("create: %v", err)
	}

	act.Status = StatusEnabled
	act.Config = map[string]any{"syncInterval": 60}
	if err := store.Update(ctx, act); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Get(ctx, "acme", "crm/leads")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusEnabled || got.Config["syncInterval"] != 60 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.CreatedAt == 0 || got.UpdatedAt < got.CreatedAt {
		t.Fatalf("timestamps not maintained: %+v", got)
	}

	if err := store.Delete(ctx, "acme", "crm/leads"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "acme", "crm/leads"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, "acme", "crm/leads"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestMemoryStoreListings(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := []*Activation{
		{ID: "1", TenantID: "acme", PluginID: "payments/razorpay", Status: StatusEnabled},
		{ID: "2", TenantID: "acme", PluginID: "crm/leads", Status: StatusInstalled},
		{ID: "3", TenantID: "globex", PluginID: "payments/razorpay", Status: StatusEnabled},
	}
	for _, act := range seed {
		if err := store.Create(ctx, act); err != nil {
			t.Fatalf("create %s/%s: %v", act.TenantID, act.PluginID, err)
		}
	}

	byTenant, err := store.ListByTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("list by tenant: %v", err)
	}
	if len(byTenant) != 2 || byTenant[0].PluginID != "crm/leads" {
		t.Fatalf("unexpected tenant listing: %+v", byTenant)
	}

	byPlugin, err := store.ListByPlugin(ctx, "payments/razorpay")
	if err != nil {
		t.Fatalf("list by plugin: %v", err)
	}
	if len(byPlugin) != 2 || byPlugin[0].TenantID != "acme" || byPlugin[1].TenantID != "globex" {
		t.Fatalf("unexpected plugin listing: %+v", byPlugin)
	}
}
