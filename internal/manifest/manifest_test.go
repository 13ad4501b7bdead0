package manifest

import (
	"errors"
	"strings"
	"testing"

	xerrors "orchestrall/internal/errors"
)

func TestValidateReportsEveryMissingField(t *testing.T) {
	doc := map[string]any{
		"name": "Razorpay",
	}

	err := Validate(doc)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var xerr *xerrors.Error
	if !errors.As(err, &xerr) || xerr.Code() != CodeManifestInvalid {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, field := range []string{"version", "description", "category", "capabilities"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error should name missing field %q: %v", field, err)
		}
	}
	if strings.Contains(err.Error(), `"name"`) {
		t.Fatalf("error should not flag present field name: %v", err)
	}
}

func TestValidateRejectsScalarCapabilities(t *testing.T) {
	doc := map[string]any{
		"name":         "Razorpay",
		"version":      "1.0.0",
		"description":  "payment gateway",
		"category":     "payments",
		"capabilities": "payments",
	}

	err := Validate(doc)
	if err == nil || !strings.Contains(err.Error(), "sequence") {
		t.Fatalf("expected sequence violation, got %v", err)
	}
}

func TestValidateRejectsScalarConfigSchema(t *testing.T) {
	doc := map[string]any{
		"name":         "Razorpay",
		"version":      "1.0.0",
		"description":  "payment gateway",
		"category":     "payments",
		"capabilities": []any{"payments"},
		"configSchema": "apiKey",
	}

	err := Validate(doc)
	if err == nil || !strings.Contains(err.Error(), "configSchema") {
		t.Fatalf("expected configSchema violation, got %v", err)
	}
}

func TestDecodeValidManifest(t *testing.T) {
	raw := []byte(`
name: Razorpay
version: 1.0.0
description: Razorpay payment gateway adapter
category: payments
capabilities: [payments, refunds]
configSchema:
  apiKey:
    type: string
    required: true
    secret: true
  webhookURL:
    type: string
hooks:
  onInstall: provisionMerchant
  onUninstall: revokeKeys
`)

	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Name != "Razorpay" || m.Category != "payments" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if len(m.Capabilities) != 2 {
		t.Fatalf("expected 2 capabilities, got %v", m.Capabilities)
	}
	spec, ok := m.ConfigSchema["apiKey"]
	if !ok || !spec.Required || !spec.Secret {
		t.Fatalf("unexpected apiKey spec: %+v", spec)
	}
	if m.Hooks.OnInstall != "provisionMerchant" {
		t.Fatalf("unexpected hooks: %+v", m.Hooks)
	}
}

func TestDecodeJSONManifest(t *testing.T) {
	raw := []byte(`{"name":"Razorpay","version":"1.0.0","description":"gw","category":"payments","capabilities":["payments"]}`)

	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if m.Version != "1.0.0" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestMissingRequiredConfig(t *testing.T) {
	m := &Manifest{
		ConfigSchema: map[string]FieldSpec{
			"apiKey":    {Type: "string", Required: true},
			"apiSecret": {Type: "string", Required: true},
			"optional":  {Type: "string"},
		},
	}

	missing := m.MissingRequiredConfig(map[string]any{"apiKey": "k"})
	if len(missing) != 1 || missing[0] != "apiSecret" {
		t.Fatalf("unexpected missing fields: %v", missing)
	}
	if missing := m.MissingRequiredConfig(map[string]any{"apiKey": "k", "apiSecret": "s"}); len(missing) != 0 {
		t.Fatalf("expected no missing fields, got %v", missing)
	}
}
