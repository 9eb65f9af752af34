package keystore_test

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pg9182/adbkit/pkg/adb/keystore"
)

func open(t *testing.T) *keystore.Store {
	t.Helper()
	s, err := keystore.Open(filepath.Join(t.TempDir(), "keystore.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnrollAndLookup(t *testing.T) {
	s := open(t)

	ok, err := s.Enrolled("aa:bb:cc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("should not be enrolled yet")
	}

	if err := s.Enroll("aa:bb:cc", "user@host"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	ok, err = s.Enrolled("aa:bb:cc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("should be enrolled")
	}

	k, err := s.Lookup("aa:bb:cc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if k.Comment != "user@host" {
		t.Fatalf("got comment %q", k.Comment)
	}
}

func TestEnrollUpdatesComment(t *testing.T) {
	s := open(t)
	if err := s.Enroll("aa:bb:cc", "first"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := s.Enroll("aa:bb:cc", "second"); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	k, err := s.Lookup("aa:bb:cc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if k.Comment != "second" {
		t.Fatalf("got comment %q", k.Comment)
	}
}

func TestRevoke(t *testing.T) {
	s := open(t)
	if err := s.Enroll("aa:bb:cc", ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := s.Revoke("aa:bb:cc"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err := s.Enrolled("aa:bb:cc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("should not be enrolled after revoke")
	}
}

func TestList(t *testing.T) {
	s := open(t)
	if err := s.Enroll("one", ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := s.Enroll("two", ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	ks, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ks) != 2 {
		t.Fatalf("got %d keys", len(ks))
	}
}
