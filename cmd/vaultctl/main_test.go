package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"multivault/gateway/middleware"
)

func TestSendForwardsCallerAndBody(t *testing.T) {
	var gotCaller, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = r.Header.Get(middleware.CallerHeader)
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"shares":"10"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := send(context.Background(), srv.Client(), http.MethodPost, srv.URL+"/v1/vault/deposit",
		"0x0000000000000000000000000000000000000004", "", []byte(`{"assets":"10"}`), &out)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotCaller != "0x0000000000000000000000000000000000000004" {
		t.Fatalf("caller header not forwarded: %q", gotCaller)
	}
	if gotBody != `{"assets":"10"}` {
		t.Fatalf("unexpected body %q", gotBody)
	}
	if !strings.Contains(out.String(), `"shares": "10"`) {
		t.Fatalf("expected indented response, got %q", out.String())
	}
}

func TestSendReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := send(context.Background(), srv.Client(), http.MethodGet, srv.URL, "", "tok", nil, &out); err == nil {
		t.Fatalf("expected error for 403")
	}
	if !strings.Contains(out.String(), "PERMISSION_DENIED") {
		t.Fatalf("expected error body echoed, got %q", out.String())
	}
}

func TestRunTokenUsesEnvironmentSecret(t *testing.T) {
	t.Setenv(defaultSecretEnv, "test-secret")
	path := filepath.Join(t.TempDir(), "vaultd.toml")
	var out bytes.Buffer
	if err := runToken([]string{"-config", path, "-caller", "0x0000000000000000000000000000000000000004"}, &out); err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out.String()), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out.String())
	}
}

func TestRunRequestRequiresBody(t *testing.T) {
	if err := runRequest(http.MethodPost, []string{"/v1/vault/deposit"}, io.Discard); err == nil {
		t.Fatalf("expected missing body error")
	}
}
