// pkg/btree/btree_test.go
package btree

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"keel/pkg/pager"
)

func openTestTree(t *testing.T) (*pager.Pager, *BTree) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	p, err := pager.Open(path, pager.Options{})
	if err != nil {
		t.Fatalf("failed to open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	root, err := Create(p)
	if err != nil {
		t.Fatalf("failed to create btree: %v", err)
	}
	return p, New(p, root)
}

func TestLookupOnEmptyTree(t *testing.T) {
	_, tree := openTestTree(t)

	if _, err := tree.Lookup(1); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("empty tree scanned %d entries", len(entries))
	}
}

func TestInsertAndLookupSingle(t *testing.T) {
	_, tree := openTestTree(t)

	if err := tree.Insert(42, []byte("hello world")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	payload, err := tree.Lookup(42)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if string(payload) != "hello world" {
		t.Errorf("wrong payload: %q", payload)
	}

	if _, err := tree.Lookup(99); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for absent key, got %v", err)
	}
}

func TestInsertAndLookupMultiple(t *testing.T) {
	_, tree := openTestTree(t)

	values := map[int64]string{
		10: "ten",
		5:  "five",
		15: "fifteen",
		1:  "one",
		20: "twenty",
	}
	for _, k := range []int64{10, 5, 15, 1, 20} {
		if err := tree.Insert(k, []byte(values[k])); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}

	for k, v := range values {
		payload, err := tree.Lookup(k)
		if err != nil {
			t.Fatalf("lookup %d: %v", k, err)
		}
		if string(payload) != v {
			t.Errorf("key %d: got %q, want %q", k, payload, v)
		}
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	wantKeys := []int64{1, 5, 10, 15, 20}
	if len(entries) != len(wantKeys) {
		t.Fatalf("expected %d entries, got %d", len(wantKeys), len(entries))
	}
	for i, e := range entries {
		if e.Key != wantKeys[i] {
			t.Errorf("entry %d: key %d, want %d", i, e.Key, wantKeys[i])
		}
	}
}

func TestUpdateExistingKey(t *testing.T) {
	_, tree := openTestTree(t)

	tree.Insert(1, []byte("original"))
	if err := tree.Insert(1, []byte("updated")); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	payload, err := tree.Lookup(1)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if string(payload) != "updated" {
		t.Errorf("update not visible: %q", payload)
	}

	entries, _ := tree.ScanAll()
	if len(entries) != 1 {
		t.Errorf("update created a duplicate: %d entries", len(entries))
	}
}

func TestNegativeKeys(t *testing.T) {
	_, tree := openTestTree(t)

	for _, k := range []int64{0, -5, 7, -100, 3} {
		if err := tree.Insert(k, []byte{byte(k & 0xff)}); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	wantKeys := []int64{-100, -5, 0, 3, 7}
	for i, e := range entries {
		if e.Key != wantKeys[i] {
			t.Errorf("entry %d: key %d, want %d", i, e.Key, wantKeys[i])
		}
	}
}

func TestPayloadTooLargeRejected(t *testing.T) {
	p, tree := openTestTree(t)

	huge := make([]byte, p.PageSize())
	if err := tree.Insert(1, huge); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestTreePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	var root uint32
	payloads := map[int64][]byte{
		1: []byte("alpha"),
		2: []byte("beta"),
		3: []byte("gamma"),
	}
	{
		p, err := pager.Open(path, pager.Options{})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		root, err = Create(p)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		tree := New(p, root)
		for k, v := range payloads {
			if err := tree.Insert(k, v); err != nil {
				t.Fatalf("insert %d: %v", k, err)
			}
		}
		root = tree.RootPage()
		if err := p.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		p.Close()
	}

	p, err := pager.Open(path, pager.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close()

	tree := New(p, root)
	for k, v := range payloads {
		payload, err := tree.Lookup(k)
		if err != nil {
			t.Fatalf("lookup %d after reopen: %v", k, err)
		}
		if !bytes.Equal(payload, v) {
			t.Errorf("key %d: got %q, want %q", k, payload, v)
		}
	}
}

func TestCursorSeek(t *testing.T) {
	_, tree := openTestTree(t)

	for i := int64(0); i < 20; i++ {
		tree.Insert(i*10, []byte{byte(i)})
	}

	c := tree.Cursor()
	defer c.Close()

	c.Seek(55)
	if !c.Valid() {
		t.Fatal("seek landed nowhere")
	}
	if c.Key() != 60 {
		t.Errorf("seek(55) landed on %d, want 60", c.Key())
	}

	c.Seek(60)
	if c.Key() != 60 {
		t.Errorf("seek(60) landed on %d, want 60", c.Key())
	}

	c.Seek(1000)
	if c.Valid() {
		t.Errorf("seek past the end is still valid at key %d", c.Key())
	}
}
