package auth

import "testing"

func TestLevelSatisfies(t *testing.T) {
	levels := []Level{LevelSystem, LevelTenantAdmin, LevelTenant, LevelUser}
	want := map[Level][]Level{
		LevelSystem:      {LevelSystem, LevelTenantAdmin, LevelTenant, LevelUser},
		LevelTenantAdmin: {LevelTenantAdmin, LevelTenant, LevelUser},
		LevelTenant:      {LevelTenant, LevelUser},
		LevelUser:        {LevelUser},
	}
	for _, have := range levels {
		allowed := make(map[Level]bool)
		for _, l := range want[have] {
			allowed[l] = true
		}
		for _, required := range levels {
			if got := have.Satisfies(required); got != allowed[required] {
				t.Errorf("%s satisfies %s = %v, want %v", have, required, got, allowed[required])
			}
		}
		if !have.Satisfies("") {
			t.Errorf("%s should satisfy an empty requirement", have)
		}
		if have.Satisfies(Level("sytem")) {
			t.Errorf("%s must not satisfy an unknown requirement", have)
		}
	}
	if Level("root").Satisfies(LevelUser) {
		t.Error("unknown level must not satisfy anything")
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" Tenant_Admin ")
	if err != nil || l != LevelTenantAdmin {
		t.Fatalf("ParseLevel = %q, %v", l, err)
	}
	if _, err := ParseLevel("owner"); err == nil {
		t.Fatal("expected error")
	}
	if LevelSystem.TenantScoped() || !LevelUser.TenantScoped() {
		t.Fatal("TenantScoped mismatch")
	}
}
