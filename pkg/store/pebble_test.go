package store

import (
	"path/filepath"
	"testing"

	"chatsync/pkg/models"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, path
}

func msg(id string, createdAt int64, text string) models.Message {
	return models.Message{ID: id, Author: "a", CreatedAt: createdAt, Content: models.TextContent{Text: text}}
}

func TestPutGetAllRoundTrip(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	if err := s.Put("m1", msg("m1", 100, "one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("m2", msg("m2", 200, "two")); err != nil {
		t.Fatalf("put: %v", err)
	}

	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].ID != "m1" || all[1].ID != "m2" {
		t.Fatalf("insertion order lost: %s, %s", all[0].ID, all[1].ID)
	}
	if tc, ok := all[0].Content.(models.TextContent); !ok || tc.Text != "one" {
		t.Fatalf("content did not survive: %#v", all[0].Content)
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	if err := s.Put("m1", msg("m1", 100, "one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("m2", msg("m2", 200, "two")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	all, err := s2.GetAll()
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(all) != 2 || all[0].ID != "m1" || all[1].ID != "m2" {
		t.Fatalf("records or order lost across reopen: %#v", all)
	}

	// seq counter restored: a fresh insert must land after the old records
	if err := s2.Put("m3", msg("m3", 50, "three")); err != nil {
		t.Fatalf("put after reopen: %v", err)
	}
	all, err = s2.GetAll()
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if all[2].ID != "m3" {
		t.Fatalf("seq not restored, m3 at wrong slot: %#v", all)
	}
}

func TestOverwriteKeepsSequence(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.Put(id, msg(id, 100, id)); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	if err := s.Put("m1", msg("m1", 100, "rewritten")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if all[0].ID != "m1" {
		t.Fatalf("overwrite moved the record: first is %s", all[0].ID)
	}
	if tc := all[0].Content.(models.TextContent); tc.Text != "rewritten" {
		t.Fatalf("overwrite did not apply: %q", tc.Text)
	}
}

func TestReplaceSwapsIdentityInPlace(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	if err := s.Put("tmp1", msg("tmp1", 100, "hi")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("m2", msg("m2", 200, "later")); err != nil {
		t.Fatalf("put: %v", err)
	}

	confirmed := models.Message{ID: "srv1", Author: "a", SentAt: 150, Content: models.TextContent{Text: "hi"}}
	if err := s.Replace("tmp1", "srv1", confirmed); err != nil {
		t.Fatalf("replace: %v", err)
	}

	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records after replace, got %d", len(all))
	}
	// the old id is gone and the new record kept the old sequence slot
	if all[0].ID != "srv1" || all[1].ID != "m2" {
		t.Fatalf("replace broke identity or order: %s, %s", all[0].ID, all[1].ID)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	if err := s.Put("m1", msg("m1", 100, "one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete("m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete("absent"); err != nil {
		t.Fatalf("delete absent should be a no-op: %v", err)
	}
	n, err := s.Len()
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}

	if err := s.Put("m2", msg("m2", 200, "two")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("clear left records: %#v", all)
	}
}

func TestUseAfterClose(t *testing.T) {
	s, _ := openTemp(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Put("m1", msg("m1", 100, "x")); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if _, err := s.GetAll(); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}
