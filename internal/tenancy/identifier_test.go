package tenancy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIdentifyPrecedence(t *testing.T) {
	newReq := func(target, body string) *http.Request {
		var r *http.Request
		if body != "" {
			r = httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
			r.Header.Set("Content-Type", "application/json")
		} else {
			r = httptest.NewRequest(http.MethodGet, target, nil)
		}
		r.Host = "acme.app.example.com"
		return r
	}

	r := newReq("/api/users?tenant_id=q-1&schema=tenant_s", `{"tenantId":"b-1"}`)
	r.Header.Set(HeaderTenantID, "h-1")
	assertIdentifier(t, r, Identifier{Source: SourceHeader, ID: "h-1"})

	r = newReq("/api/users?tenant_id=q-1&schema=tenant_s", `{"tenantId":"b-1"}`)
	assertIdentifier(t, r, Identifier{Source: SourceQuery, ID: "q-1"})

	r = newReq("/api/users?schema=tenant_s", `{"tenantId":"b-1"}`)
	assertIdentifier(t, r, Identifier{Source: SourceBody, ID: "b-1"})

	r = newReq("/api/tenants/check/tenant_acme", "")
	assertIdentifier(t, r, Identifier{Source: SourceSchema, Schema: "tenant_acme"})

	r = newReq("/api/users?schema=tenant_s", "")
	assertIdentifier(t, r, Identifier{Source: SourceSchema, Schema: "tenant_s"})

	r = newReq("/auth/tenant/t-9/login", `{"username":"a"}`)
	assertIdentifier(t, r, Identifier{Source: SourcePath, ID: "t-9"})

	r = newReq("/api/users", "")
	assertIdentifier(t, r, Identifier{Source: SourceSubdomain, Domain: "acme.app.example.com"})
}

func TestIdentifyRestoresBody(t *testing.T) {
	body := `{"tenantId":"b-1","username":"alice"}`
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if _, err := Identify(r); err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Fatalf("body = %q", got)
	}
}

func TestIdentifyNothing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	r.Host = "localhost:8080"
	id, err := Identify(r)
	if err != nil || !id.Empty() {
		t.Fatalf("Identify = %+v, %v", id, err)
	}
}

func TestSubdomain(t *testing.T) {
	cases := map[string]string{
		"acme.example.com":        "acme",
		"acme.example.com:8443":   "acme",
		"example.com":             "",
		"acme.localhost":          "",
		"acme.dev.local":          "",
		"acme.service.internal":   "",
		"foo.bar.test":            "",
		"10.0.0.1":                "",
		"Beta.Portal.Example.COM": "beta",
	}
	for host, want := range cases {
		if got := Subdomain(host); got != want {
			t.Errorf("Subdomain(%q) = %q, want %q", host, got, want)
		}
	}
}

func assertIdentifier(t *testing.T, r *http.Request, want Identifier) {
	t.Helper()
	got, err := Identify(r)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got != want {
		t.Fatalf("Identify(%s) = %+v, want %+v", r.URL, got, want)
	}
}

func TestIdentifyKeepsOversizedBody(t *testing.T) {
	body := `{"tenantId":"b-1","blob":"` + strings.Repeat("x", maxBodyPeek+512) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	id, err := Identify(r)
	if err != nil {
		t.Fatal(err)
	}
	if id.ID != "" {
		t.Fatalf("oversized body should not be inspected, got %+v", id)
	}
	got, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(body) || string(got) != body {
		t.Fatalf("body length = %d, want %d", len(got), len(body))
	}
}
