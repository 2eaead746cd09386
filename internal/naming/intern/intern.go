// Package intern provides a small string table used to keep the
// registry's service map compact, since namespace/group/service names
// recur heavily across instances of the same service. Entries are never
// evicted once interned.
package intern

import "sync"

// Table interns strings, returning a shared copy for equal values so
// repeated ServiceKey and cluster-name fields do not each hold their own
// backing array.
type Table struct {
	mu     sync.Mutex
	values map[string]string
}

// New returns a ready-to-use Table.
func New() *Table {
	return &Table{values: make(map[string]string)}
}

// Intern returns the canonical shared copy of s, storing s itself the
// first time a given value is seen.
func (t *Table) Intern(s string) string {
	if s == "" {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.values[s]; ok {
		return v
	}
	t.values[s] = s
	return s
}

// Len reports how many distinct strings are currently interned. Useful in
// tests asserting that interning is actually deduplicating.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}
