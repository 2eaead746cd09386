package store

import (
	"path/filepath"
	"testing"

	"github.com/hashicorp/raft"
)

func testRaftStore(t *testing.T) *RaftStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raft-test.db")
	r, err := OpenRaftStore(path)
	if err != nil {
		t.Fatalf("OpenRaftStore(%q): %v", path, err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRaftStoreEmptyIndices(t *testing.T) {
	r := testRaftStore(t)

	first, err := r.FirstIndex()
	if err != nil || first != 0 {
		t.Fatalf("FirstIndex() = (%d, %v), want (0, nil)", first, err)
	}
	last, err := r.LastIndex()
	if err != nil || last != 0 {
		t.Fatalf("LastIndex() = (%d, %v), want (0, nil)", last, err)
	}
}

func TestRaftStoreLogRoundTrip(t *testing.T) {
	r := testRaftStore(t)

	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("entry-one")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("entry-two")},
		{Index: 3, Term: 2, Type: raft.LogNoop},
	}
	if err := r.StoreLogs(logs); err != nil {
		t.Fatalf("StoreLogs: %v", err)
	}

	first, _ := r.FirstIndex()
	last, _ := r.LastIndex()
	if first != 1 || last != 3 {
		t.Fatalf("FirstIndex/LastIndex = %d/%d, want 1/3", first, last)
	}

	var got raft.Log
	if err := r.GetLog(2, &got); err != nil {
		t.Fatalf("GetLog(2): %v", err)
	}
	if got.Term != 1 || string(got.Data) != "entry-two" {
		t.Errorf("GetLog(2) = %+v, want term 1 data entry-two", got)
	}

	var missing raft.Log
	if err := r.GetLog(99, &missing); err != raft.ErrLogNotFound {
		t.Errorf("GetLog(99) err = %v, want ErrLogNotFound", err)
	}
}

func TestRaftStoreDeleteRange(t *testing.T) {
	r := testRaftStore(t)
	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("a")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("b")},
		{Index: 3, Term: 1, Type: raft.LogCommand, Data: []byte("c")},
	}
	if err := r.StoreLogs(logs); err != nil {
		t.Fatalf("StoreLogs: %v", err)
	}
	if err := r.DeleteRange(1, 2); err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}
	first, _ := r.FirstIndex()
	if first != 3 {
		t.Errorf("FirstIndex() after DeleteRange = %d, want 3", first)
	}
}

func TestRaftStoreStableStore(t *testing.T) {
	r := testRaftStore(t)

	term, err := r.GetUint64([]byte("CurrentTerm"))
	if err != nil || term != 0 {
		t.Fatalf("GetUint64(unset) = (%d, %v), want (0, nil)", term, err)
	}

	if err := r.SetUint64([]byte("CurrentTerm"), 42); err != nil {
		t.Fatalf("SetUint64: %v", err)
	}
	term, err = r.GetUint64([]byte("CurrentTerm"))
	if err != nil || term != 42 {
		t.Fatalf("GetUint64 = (%d, %v), want (42, nil)", term, err)
	}

	if err := r.Set([]byte("LastVoteCand"), []byte("node-2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := r.Get([]byte("LastVoteCand"))
	if err != nil || string(v) != "node-2" {
		t.Fatalf("Get = (%q, %v), want (node-2, nil)", v, err)
	}
}
