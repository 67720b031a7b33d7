package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestResourceDescribesVault(t *testing.T) {
	res, err := Resource(Config{
		Environment:  "test",
		Version:      "1.2.0",
		VaultAddress: "0x00000000000000000000000000000000000000FA",
		AssetSymbol:  "USDC",
	})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	set := res.Set()
	expect := map[string]string{
		string(semconv.ServiceNameKey):           "vaultd",
		string(semconv.ServiceNamespaceKey):      Namespace,
		string(semconv.ServiceVersionKey):        "1.2.0",
		string(semconv.DeploymentEnvironmentKey): "test",
		string(AttrVaultAddress):                 "0x00000000000000000000000000000000000000fa",
		string(AttrVaultAsset):                   "USDC",
	}
	for key, want := range expect {
		got, ok := set.Value(attribute.Key(key))
		if !ok || got.AsString() != want {
			t.Fatalf("%s: expected %q, got %q", key, want, got.AsString())
		}
	}
}

func TestResourceOmitsUnsetVaultFields(t *testing.T) {
	res, err := Resource(Config{ServiceName: "vaultctl"})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	if _, ok := res.Set().Value(AttrVaultAddress); ok {
		t.Fatalf("vault address should be absent")
	}
	if got, _ := res.Set().Value(semconv.ServiceNameKey); got.AsString() != "vaultctl" {
		t.Fatalf("unexpected service name %q", got.AsString())
	}
}

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken,=x, tenant=vault ")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "vault" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestSampleRatio(t *testing.T) {
	if sampleRatio(0) != 1 || sampleRatio(2) != 1 || sampleRatio(0.25) != 0.25 {
		t.Fatalf("unexpected sample ratio clamp")
	}
}
