// pkg/btree/node_test.go
package btree

import (
	"bytes"
	"testing"
)

func TestInitLeafLayout(t *testing.T) {
	data := make([]byte, 4096)
	node := InitLeaf(data)

	if !node.IsLeaf() {
		t.Error("leaf flag not set")
	}
	if node.CellCount() != 0 {
		t.Errorf("fresh leaf has %d cells", node.CellCount())
	}
	if node.contentOffset() != 4096 {
		t.Errorf("content offset should start at page end, got %d", node.contentOffset())
	}
	if node.NextLeaf() != 0 {
		t.Errorf("fresh leaf has next_leaf %d", node.NextLeaf())
	}
	if node.FreeSpace() != 4096-nodeHeaderSize {
		t.Errorf("free space wrong: %d", node.FreeSpace())
	}
}

func TestInitInteriorLayout(t *testing.T) {
	data := make([]byte, 4096)
	node := InitInterior(data)

	if node.IsLeaf() {
		t.Error("interior marked as leaf")
	}
	if node.Type() != PageTypeInterior {
		t.Errorf("wrong type byte: %d", node.Type())
	}
	if node.RightChild() != 0 {
		t.Errorf("fresh interior has right child %d", node.RightChild())
	}
}

func TestLeafCellInsertKeepsSortedSlots(t *testing.T) {
	data := make([]byte, 4096)
	node := InitLeaf(data)

	for _, k := range []int64{30, 10, 20, 5, 25} {
		node.InsertLeafCell(k, []byte{byte(k)})
	}

	want := []int64{5, 10, 20, 25, 30}
	if node.CellCount() != len(want) {
		t.Fatalf("cell count %d, want %d", node.CellCount(), len(want))
	}
	for i, k := range want {
		if node.LeafKey(i) != k {
			t.Errorf("slot %d: key %d, want %d", i, node.LeafKey(i), k)
		}
		payload, err := node.LeafPayload(i)
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if !bytes.Equal(payload, []byte{byte(k)}) {
			t.Errorf("slot %d payload wrong: %v", i, payload)
		}
	}
}

func TestFreeSpaceAccounting(t *testing.T) {
	data := make([]byte, 4096)
	node := InitLeaf(data)

	before := node.FreeSpace()
	payload := []byte("ten bytes!")
	node.InsertLeafCell(1, payload)
	after := node.FreeSpace()

	wantUsed := leafCellOverhead + len(payload) + slotSize
	if before-after != wantUsed {
		t.Errorf("insert consumed %d bytes, want %d", before-after, wantUsed)
	}
}

func TestDeleteCellRemovesSlotOnly(t *testing.T) {
	data := make([]byte, 4096)
	node := InitLeaf(data)

	node.InsertLeafCell(1, []byte("one"))
	node.InsertLeafCell(2, []byte("two"))
	node.InsertLeafCell(3, []byte("three"))

	contentBefore := node.contentOffset()
	node.DeleteCell(1)

	if node.CellCount() != 2 {
		t.Fatalf("cell count %d after delete", node.CellCount())
	}
	if node.LeafKey(0) != 1 || node.LeafKey(1) != 3 {
		t.Errorf("remaining keys wrong: %d, %d", node.LeafKey(0), node.LeafKey(1))
	}
	// Content space is not reclaimed.
	if node.contentOffset() != contentBefore {
		t.Errorf("delete moved content offset: %d -> %d", contentBefore, node.contentOffset())
	}
}

func TestFindLeafCellStopsEarly(t *testing.T) {
	data := make([]byte, 4096)
	node := InitLeaf(data)

	node.InsertLeafCell(10, []byte("a"))
	node.InsertLeafCell(20, []byte("b"))

	if idx := node.FindLeafCell(10); idx != 0 {
		t.Errorf("FindLeafCell(10) = %d", idx)
	}
	if idx := node.FindLeafCell(15); idx != -1 {
		t.Errorf("FindLeafCell(15) = %d, want -1", idx)
	}
	if idx := node.FindLeafCell(25); idx != -1 {
		t.Errorf("FindLeafCell(25) = %d, want -1", idx)
	}
}

func TestInteriorCellsAndFindChild(t *testing.T) {
	data := make([]byte, 4096)
	node := InitInterior(data)

	node.SetRightChild(40)
	node.InsertInteriorCell(10, 100) // keys < 100 -> page 10
	node.InsertInteriorCell(20, 200) // 100 <= keys < 200 -> page 20
	node.InsertInteriorCell(30, 300) // 200 <= keys < 300 -> page 30

	cases := []struct {
		key  int64
		want uint32
	}{
		{-5, 10},
		{99, 10},
		{100, 20},
		{199, 20},
		{200, 30},
		{300, 40},
		{1000, 40},
	}
	for _, tc := range cases {
		if got := node.FindChild(tc.key); got != tc.want {
			t.Errorf("FindChild(%d) = %d, want %d", tc.key, got, tc.want)
		}
	}
}

func TestLeafPayloadValidatesBounds(t *testing.T) {
	data := make([]byte, 512)
	node := InitLeaf(data)
	node.InsertLeafCell(1, []byte("ok"))

	// Corrupt the payload size so the cell claims to run past the page.
	offset := node.cellOffset(0)
	data[offset+8] = 0xFF
	data[offset+9] = 0xFF

	if _, err := node.LeafPayload(0); err == nil {
		t.Error("expected error for payload extending past page end")
	}
}

func TestHasRoomLeaf(t *testing.T) {
	data := make([]byte, 512)
	node := InitLeaf(data)

	// Fill until full, then verify the accounting said so beforehand.
	payload := bytes.Repeat([]byte{0x5A}, 50)
	inserted := 0
	for node.HasRoomLeaf(len(payload)) {
		node.InsertLeafCell(int64(inserted), payload)
		inserted++
	}

	free := node.FreeSpace()
	if free >= leafCellOverhead+len(payload)+slotSize {
		t.Errorf("HasRoomLeaf said full but %d bytes remain", free)
	}
	if inserted == 0 {
		t.Fatal("nothing fit in an empty page")
	}
}
