package user

import "testing"

func TestPrivilegeGroupDisabledAllowsAll(t *testing.T) {
	g := PrivilegeGroup[string]{}
	if !g.Allows("anything") {
		t.Fatal("disabled privilege group should allow everything")
	}
}

func TestPrivilegeGroupWhitelist(t *testing.T) {
	g := NewPrivilegeGroup(PrivilegeEnable, map[string]struct{}{"public": {}}, nil)
	if !g.Allows("public") {
		t.Fatal("public should be allowed by whitelist")
	}
	if g.Allows("private") {
		t.Fatal("private should be denied: not in whitelist")
	}
}

func TestPrivilegeGroupBlacklist(t *testing.T) {
	g := NewPrivilegeGroup(PrivilegeEnable, nil, map[string]struct{}{"sandbox": {}})
	if g.Allows("sandbox") {
		t.Fatal("sandbox should be denied by blacklist")
	}
	if !g.Allows("public") {
		t.Fatal("public should be allowed: empty whitelist means allow-all-but-blacklisted")
	}
}

func TestBuildNamespacePrivilegeDisabled(t *testing.T) {
	u := &UserDo{Username: "alice"}
	g := BuildNamespacePrivilege(u)
	if !g.Allows("any-namespace") {
		t.Fatal("user with no namespace_privilege_flags should allow all namespaces")
	}
}

func TestBuildNamespacePrivilegeEnabled(t *testing.T) {
	flags := uint32(PrivilegeEnable)
	u := &UserDo{
		Username:                "alice",
		NamespacePrivilegeFlags: &flags,
		NamespaceWhiteList:      []string{"public"},
		NamespaceBlackList:      []string{"sandbox"},
	}
	g := BuildNamespacePrivilege(u)
	if !g.Allows("public") {
		t.Fatal("public should be allowed")
	}
	if g.Allows("other") {
		t.Fatal("other should be denied: not in whitelist")
	}
}
