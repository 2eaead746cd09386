package store

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)

	if err := s.PutUser("alice", []byte("encoded-user-do")); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	got, err := s.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if string(got) != "encoded-user-do" {
		t.Errorf("GetUser = %q, want %q", got, "encoded-user-do")
	}

	names, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(names) != 1 || names[0] != "alice" {
		t.Errorf("ListUsers = %v, want [alice]", names)
	}

	if err := s.DeleteUser("alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	got, err = s.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser after delete: %v", err)
	}
	if got != nil {
		t.Errorf("GetUser after delete = %v, want nil", got)
	}
}

func TestGetUserMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.GetUser("nobody")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got != nil {
		t.Errorf("GetUser(missing) = %v, want nil", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testStore(t)

	data := []byte("perpetual-instance-snapshot-bytes")
	if err := s.SaveSnapshot("chk-1", data); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := s.GetSnapshot("chk-1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("GetSnapshot = %q, want %q", got, data)
	}
}

func TestSettingRoundTrip(t *testing.T) {
	s := testStore(t)

	v, err := s.LoadSetting("cluster_epoch")
	if err != nil {
		t.Fatalf("LoadSetting: %v", err)
	}
	if v != "" {
		t.Errorf("LoadSetting(missing) = %q, want empty", v)
	}

	if err := s.SaveSetting("cluster_epoch", "7"); err != nil {
		t.Fatalf("SaveSetting: %v", err)
	}
	v, err = s.LoadSetting("cluster_epoch")
	if err != nil {
		t.Fatalf("LoadSetting: %v", err)
	}
	if v != "7" {
		t.Errorf("LoadSetting = %q, want 7", v)
	}
}
