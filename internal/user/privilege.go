package user

// PrivilegeGroupFlags bits control how a PrivilegeGroup evaluates Allows.
type PrivilegeGroupFlags uint8

const (
	// PrivilegeEnable gates whether the allow/deny lists apply at all.
	// Unset means "allow everything", matching the behavior of a user
	// record that was never granted namespace restrictions.
	PrivilegeEnable PrivilegeGroupFlags = 1 << 0
)

// PrivilegeGroup is a generic capability set over some comparable key
// type T (namespace IDs today, but the shape is reusable for any future
// privilege dimension). An empty Whitelist with PrivilegeEnable set
// means "allow anything not blacklisted"; a non-empty Whitelist narrows
// that to just its members.
type PrivilegeGroup[T comparable] struct {
	Flags     PrivilegeGroupFlags
	Whitelist map[T]struct{}
	Blacklist map[T]struct{}
}

// AllPrivilege returns a PrivilegeGroup that allows every value: the
// default for a user record with no namespace restrictions configured.
func AllPrivilege[T comparable]() PrivilegeGroup[T] {
	return PrivilegeGroup[T]{}
}

// NewPrivilegeGroup builds a PrivilegeGroup from explicit flags and lists.
func NewPrivilegeGroup[T comparable](flags PrivilegeGroupFlags, whitelist, blacklist map[T]struct{}) PrivilegeGroup[T] {
	return PrivilegeGroup[T]{Flags: flags, Whitelist: whitelist, Blacklist: blacklist}
}

// Allows reports whether v is permitted by this privilege group: ENABLE
// unset allows everything; otherwise v must be in Whitelist (when
// Whitelist is non-empty) and must not be in Blacklist.
func (g PrivilegeGroup[T]) Allows(v T) bool {
	if g.Flags&PrivilegeEnable == 0 {
		return true
	}
	if len(g.Whitelist) > 0 {
		if _, ok := g.Whitelist[v]; !ok {
			return false
		}
	}
	if _, ok := g.Blacklist[v]; ok {
		return false
	}
	return true
}

// BuildNamespacePrivilege derives the namespace-access PrivilegeGroup a
// registry namespace-scoped operation consults at its access boundary.
func BuildNamespacePrivilege(u *UserDo) PrivilegeGroup[string] {
	var flags PrivilegeGroupFlags
	if u.NamespacePrivilegeFlags != nil {
		flags = PrivilegeGroupFlags(*u.NamespacePrivilegeFlags)
	}
	if flags&PrivilegeEnable == 0 {
		return AllPrivilege[string]()
	}

	whitelist := make(map[string]struct{}, len(u.NamespaceWhiteList))
	for _, ns := range u.NamespaceWhiteList {
		whitelist[ns] = struct{}{}
	}
	blacklist := make(map[string]struct{}, len(u.NamespaceBlackList))
	for _, ns := range u.NamespaceBlackList {
		blacklist[ns] = struct{}{}
	}
	return NewPrivilegeGroup(flags, whitelist, blacklist)
}
