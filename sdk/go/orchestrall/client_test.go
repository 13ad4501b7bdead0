package orchestrall

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInstallRoundTrip(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "a-1",
			"tenant_id": "acme",
			"plugin_id": "payments/razorpay",
			"status":    "installed",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	act, err := client.Install(context.Background(), "acme", "payments/razorpay", map[string]any{"apiKey": "k"})
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/api/v1/tenants/acme/plugins/payments/razorpay/install" {
		t.Fatalf("path = %s", gotPath)
	}
	config, _ := gotBody["config"].(map[string]any)
	if config["apiKey"] != "k" {
		t.Fatalf("body = %v", gotBody)
	}
	if act.Status != "installed" || act.ID != "a-1" {
		t.Fatalf("activation = %+v", act)
	}
}

func TestErrorResponseDecoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "ACTIVATION_CONFLICT",
			"message": "plugin already installed for tenant",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Install(context.Background(), "acme", "payments/razorpay", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "ACTIVATION_CONFLICT" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestUninstallNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Uninstall(context.Background(), "acme", "payments/razorpay"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
}

func TestApplyBundleQueryFlags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("dryRun") != "true" || r.URL.Query().Get("prune") != "true" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"plan": map[string]any{
				"bundle": "starter",
				"tenant": "acme",
				"steps":  []map[string]any{{"pluginId": "payments/razorpay", "action": "install"}},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	outcome, err := client.ApplyBundle(context.Background(), "acme", Bundle{
		Name:    "starter",
		Version: "1",
		Entries: []BundleEntry{{ID: "payments/razorpay"}},
	}, BundleOptions{Prune: true, DryRun: true})
	if err != nil {
		t.Fatalf("apply bundle: %v", err)
	}
	if len(outcome.Plan.Steps) != 1 || outcome.Plan.Steps[0].Action != "install" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Results != nil {
		t.Fatal("dry run returned results")
	}
}
