package tenancy

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
)

// Sources of a tenant identifier, in precedence order.
const (
	SourceHeader    = "header"
	SourceQuery     = "query"
	SourceBody      = "body"
	SourceSchema    = "schema"
	SourcePath      = "path"
	SourceSubdomain = "subdomain"
)

const (
	HeaderTenantID = "x-tenant-id"
	maxBodyPeek    = 1 << 20
)

// Identifier is what the request says about its tenant. Exactly one of ID,
// Schema or Domain is set when Source is not empty.
type Identifier struct {
	Source string
	ID     string
	Schema string
	Domain string
}

func (i Identifier) Empty() bool { return i.Source == "" }

var reservedHostSuffixes = []string{"localhost", ".local", ".test", ".internal"}

// Identify extracts the tenant identifier of r. A JSON body is read and put
// back so handlers can decode it again.
func Identify(r *http.Request) (Identifier, error) {
	if v := strings.TrimSpace(r.Header.Get(HeaderTenantID)); v != "" {
		return Identifier{Source: SourceHeader, ID: v}, nil
	}
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("tenant_id")); v != "" {
		return Identifier{Source: SourceQuery, ID: v}, nil
	}
	id, err := bodyTenantID(r)
	if err != nil {
		return Identifier{}, err
	}
	if id != "" {
		return Identifier{Source: SourceBody, ID: id}, nil
	}
	if v := schemaFromPath(r.URL.Path); v != "" {
		return Identifier{Source: SourceSchema, Schema: v}, nil
	}
	if v := strings.TrimSpace(q.Get("schema")); v != "" {
		return Identifier{Source: SourceSchema, Schema: v}, nil
	}
	if v := tenantFromAuthPath(r.URL.Path); v != "" {
		return Identifier{Source: SourcePath, ID: v}, nil
	}
	if d := subdomainHost(r.Host); d != "" {
		return Identifier{Source: SourceSubdomain, Domain: d}, nil
	}
	return Identifier{}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func bodyTenantID(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return "", nil
	}
	orig := r.Body
	raw, err := io.ReadAll(io.LimitReader(orig, maxBodyPeek+1))
	if err != nil {
		return "", err
	}
	// the unread remainder of an oversized body stays behind the peeked bytes
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), orig), Closer: orig}
	if len(raw) > maxBodyPeek {
		return "", nil
	}
	var body struct {
		TenantID any `json:"tenantId"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return "", nil
	}
	if s, ok := body.TenantID.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return "", nil
}

// schemaFromPath matches .../tenants/check/{schema}.
func schemaFromPath(path string) string {
	segs := splitPath(path)
	for i := 0; i+2 < len(segs); i++ {
		if segs[i] == "tenants" && segs[i+1] == "check" {
			return segs[i+2]
		}
	}
	return ""
}

// tenantFromAuthPath matches /auth/tenant/{tenantId}/...
func tenantFromAuthPath(path string) string {
	segs := splitPath(path)
	if len(segs) >= 3 && segs[0] == "auth" && segs[1] == "tenant" {
		return segs[2]
	}
	return ""
}

func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// subdomainHost returns the host when it carries a tenant subdomain.
func subdomainHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	for _, suffix := range reservedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return ""
		}
	}
	if len(strings.Split(host, ".")) < 3 {
		return ""
	}
	return host
}

// Subdomain returns the first label of a tenant host.
func Subdomain(host string) string {
	h := subdomainHost(host)
	if h == "" {
		return ""
	}
	return h[:strings.IndexByte(h, '.')]
}
