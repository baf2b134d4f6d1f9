// pkg/btree/split_test.go
package btree

import (
	"bytes"
	"fmt"
	"testing"
)

func TestLeafSplit(t *testing.T) {
	_, tree := openTestTree(t)

	// 100-byte payloads: a 4 KiB leaf holds ~35 cells, so 50 inserts force
	// at least one split.
	payload := bytes.Repeat([]byte{0xAB}, 100)
	for i := int64(0); i < 50; i++ {
		if err := tree.Insert(i, payload); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for i := int64(0); i < 50; i++ {
		got, err := tree.Lookup(i)
		if err != nil {
			t.Fatalf("lookup %d after split: %v", i, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("key %d payload corrupted by split", i)
		}
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Key != int64(i) {
			t.Errorf("entry %d out of order: key %d", i, e.Key)
		}
	}
}

func TestMultiLevelSplitsAscending(t *testing.T) {
	_, tree := openTestTree(t)

	// 200 entries with 50-byte payloads span multiple leaves and force the
	// root to become interior.
	for i := int64(0); i < 200; i++ {
		payload := bytes.Repeat([]byte{0xCD}, 50)
		if err := tree.Insert(i, payload); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for i := int64(0); i < 200; i++ {
		if _, err := tree.Lookup(i); err != nil {
			t.Errorf("key %d lost after splits: %v", i, err)
		}
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != 200 {
		t.Fatalf("expected 200 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Key != int64(i) {
			t.Fatalf("entry %d out of order: key %d", i, e.Key)
		}
	}
}

func TestMultiLevelSplitsReverse(t *testing.T) {
	_, tree := openTestTree(t)

	payload := bytes.Repeat([]byte{0xEF}, 30)
	for i := int64(99); i >= 0; i-- {
		if err := tree.Insert(i, payload); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Key != int64(i) {
			t.Fatalf("entry %d out of order: key %d", i, e.Key)
		}
	}
}

func TestDeepInterleavedInserts(t *testing.T) {
	_, tree := openTestTree(t)

	// Alternating low/high keys with fat payloads (two cells per leaf)
	// push the tree to three levels and exercise interior splits away from
	// the rightmost edge, where the right-child rewiring is subtle.
	payload := bytes.Repeat([]byte{0x42}, 1800)
	n := int64(600)
	inserted := make(map[int64]bool)
	for i := int64(0); i < n; i++ {
		var key int64
		if i%2 == 0 {
			key = i
		} else {
			key = 10*n - i
		}
		if err := tree.Insert(key, payload); err != nil {
			t.Fatalf("insert %d: %v", key, err)
		}
		inserted[key] = true
	}

	entries, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != len(inserted) {
		t.Fatalf("expected %d entries, got %d", len(inserted), len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Key <= entries[i-1].Key {
			t.Fatalf("scan not strictly ascending at %d: %d then %d",
				i, entries[i-1].Key, entries[i].Key)
		}
	}
	for key := range inserted {
		if _, err := tree.Lookup(key); err != nil {
			t.Errorf("key %d lost: %v", key, err)
		}
	}
}

func TestScanRange(t *testing.T) {
	_, tree := openTestTree(t)

	for i := int64(0); i < 20; i++ {
		var buf [4]byte
		buf[3] = byte(i)
		tree.Insert(i*10, buf[:])
	}

	entries, err := tree.ScanRange(50, 120)
	if err != nil {
		t.Fatalf("range scan failed: %v", err)
	}
	want := []int64{50, 60, 70, 80, 90, 100, 110, 120}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Key != want[i] {
			t.Errorf("entry %d: key %d, want %d", i, e.Key, want[i])
		}
	}
}

func TestScanRangeMatchesFilteredScanAll(t *testing.T) {
	_, tree := openTestTree(t)

	for i := int64(0); i < 300; i++ {
		key := (i * 7) % 300 // jumbled but unique
		payload := []byte(fmt.Sprintf("value-%d", key))
		if err := tree.Insert(key, payload); err != nil {
			t.Fatalf("insert %d: %v", key, err)
		}
	}

	all, err := tree.ScanAll()
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	ranges := [][2]int64{{0, 300}, {50, 60}, {-10, 5}, {295, 400}, {100, 100}, {200, 150}}
	for _, r := range ranges {
		got, err := tree.ScanRange(r[0], r[1])
		if err != nil {
			t.Fatalf("range scan [%d, %d] failed: %v", r[0], r[1], err)
		}

		var want []Entry
		for _, e := range all {
			if e.Key >= r[0] && e.Key <= r[1] {
				want = append(want, e)
			}
		}
		if len(got) != len(want) {
			t.Errorf("range [%d, %d]: %d entries, want %d", r[0], r[1], len(got), len(want))
			continue
		}
		for i := range got {
			if got[i].Key != want[i].Key || !bytes.Equal(got[i].Payload, want[i].Payload) {
				t.Errorf("range [%d, %d] entry %d differs from filtered scan", r[0], r[1], i)
			}
		}
	}
}

func TestRootPageChangesOnRootSplit(t *testing.T) {
	_, tree := openTestTree(t)

	before := tree.RootPage()
	payload := bytes.Repeat([]byte{0x7}, 300)
	for i := int64(0); i < 50; i++ {
		if err := tree.Insert(i, payload); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if tree.RootPage() == before {
		t.Error("expected root page to move after root split")
	}
}

func TestUpdatesAfterSplits(t *testing.T) {
	_, tree := openTestTree(t)

	payload := bytes.Repeat([]byte{0x1}, 60)
	for i := int64(0); i < 150; i++ {
		tree.Insert(i, payload)
	}

	// Rewrite every third key and verify only those changed.
	updated := []byte("rewritten-payload")
	for i := int64(0); i < 150; i += 3 {
		if err := tree.Insert(i, updated); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	for i := int64(0); i < 150; i++ {
		got, err := tree.Lookup(i)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if i%3 == 0 {
			if !bytes.Equal(got, updated) {
				t.Errorf("key %d not updated", i)
			}
		} else if !bytes.Equal(got, payload) {
			t.Errorf("key %d unexpectedly changed", i)
		}
	}
}
