// pkg/btree/node.go
package btree

import (
	"errors"
	"fmt"

	"keel/internal/encoding"
)

/*
Node Page Layout:
+----------------------+
| Header (9 bytes)     |
|   - page type (1)    |  1 = interior, 2 = leaf
|   - cell count (2)   |
|   - content offset(2)|  low-water mark of the cell content area
|   - type-specific (4)|  interior: right child; leaf: next leaf
+----------------------+
| Slot array           |
| (2 bytes per cell,   |
|  sorted by key)      |
+----------------------+
| Free Space           |
+----------------------+
| Cell Content         |
| (grows downward)     |
+----------------------+

Interior cell: left_child u32 + key i64 (12 bytes).
Leaf cell: key i64 + payload_size u32 + payload.
All fields big-endian.
*/

const (
	// PageTypeInterior and PageTypeLeaf are the page type markers stored in
	// byte 0 of every btree page.
	PageTypeInterior byte = 1
	PageTypeLeaf     byte = 2

	nodeHeaderSize   = 9
	slotSize         = 2
	interiorCellSize = 12
	leafCellOverhead = 12 // key + payload_size, without the payload itself

	offType          = 0
	offCellCount     = 1
	offContentOffset = 3
	offTypeSpecific  = 5 // right_child (interior) or next_leaf (leaf)
)

var (
	ErrUnknownPageType = errors.New("unknown page type")
	ErrCorruptCell     = errors.New("corrupt cell")
)

// Node wraps a page's raw bytes with btree accessors. It does not own the
// bytes; they belong to a pager frame.
type Node struct {
	data []byte
}

// LoadNode wraps existing page data.
func LoadNode(data []byte) *Node {
	return &Node{data: data}
}

// InitLeaf zeroes the page and initializes it as an empty leaf.
func InitLeaf(data []byte) *Node {
	return initNode(data, PageTypeLeaf)
}

// InitInterior zeroes the page and initializes it as an empty interior node.
func InitInterior(data []byte) *Node {
	return initNode(data, PageTypeInterior)
}

func initNode(data []byte, pageType byte) *Node {
	for i := range data {
		data[i] = 0
	}
	data[offType] = pageType
	encoding.PutU16(data, offContentOffset, uint16(len(data)))
	return &Node{data: data}
}

// Type returns the page type byte.
func (n *Node) Type() byte {
	return n.data[offType]
}

// IsLeaf reports whether this is a leaf page.
func (n *Node) IsLeaf() bool {
	return n.data[offType] == PageTypeLeaf
}

// CellCount returns the number of cells on the page.
func (n *Node) CellCount() int {
	return int(encoding.GetU16(n.data, offCellCount))
}

func (n *Node) setCellCount(count int) {
	encoding.PutU16(n.data, offCellCount, uint16(count))
}

func (n *Node) contentOffset() int {
	return int(encoding.GetU16(n.data, offContentOffset))
}

func (n *Node) setContentOffset(offset int) {
	encoding.PutU16(n.data, offContentOffset, uint16(offset))
}

// RightChild returns the rightmost child page (interior pages).
func (n *Node) RightChild() uint32 {
	return encoding.GetU32(n.data, offTypeSpecific)
}

// SetRightChild sets the rightmost child page (interior pages).
func (n *Node) SetRightChild(child uint32) {
	encoding.PutU32(n.data, offTypeSpecific, child)
}

// NextLeaf returns the right sibling page (leaf pages, 0 = none).
func (n *Node) NextLeaf() uint32 {
	return encoding.GetU32(n.data, offTypeSpecific)
}

// SetNextLeaf sets the right sibling page (leaf pages).
func (n *Node) SetNextLeaf(next uint32) {
	encoding.PutU32(n.data, offTypeSpecific, next)
}

func (n *Node) cellOffset(i int) int {
	return int(encoding.GetU16(n.data, nodeHeaderSize+i*slotSize))
}

func (n *Node) setCellOffset(i, offset int) {
	encoding.PutU16(n.data, nodeHeaderSize+i*slotSize, uint16(offset))
}

// FreeSpace returns the bytes available between the slot array and the
// cell content area.
func (n *Node) FreeSpace() int {
	slotEnd := nodeHeaderSize + n.CellCount()*slotSize
	content := n.contentOffset()
	if content > slotEnd {
		return content - slotEnd
	}
	return 0
}

// HasRoomLeaf reports whether a leaf cell with the given payload fits
// (cell bytes plus one slot entry).
func (n *Node) HasRoomLeaf(payloadLen int) bool {
	return n.FreeSpace() >= leafCellOverhead+payloadLen+slotSize
}

// HasRoomInterior reports whether one more interior cell fits.
func (n *Node) HasRoomInterior() bool {
	return n.FreeSpace() >= interiorCellSize+slotSize
}

// InsertLeafCell writes a leaf cell and splices its slot into sorted
// position. The caller checks HasRoomLeaf first.
func (n *Node) InsertLeafCell(key int64, payload []byte) {
	count := n.CellCount()
	cellSize := leafCellOverhead + len(payload)

	offset := n.contentOffset() - cellSize
	n.setContentOffset(offset)

	encoding.PutI64(n.data, offset, key)
	encoding.PutU32(n.data, offset+8, uint32(len(payload)))
	copy(n.data[offset+12:], payload)

	pos := n.findInsertPos(count, key, n.leafKeyAt)
	for i := count; i > pos; i-- {
		n.setCellOffset(i, n.cellOffset(i-1))
	}
	n.setCellOffset(pos, offset)
	n.setCellCount(count + 1)
}

// InsertInteriorCell writes an interior cell (left_child, key) and splices
// its slot into sorted position. The caller checks HasRoomInterior first.
func (n *Node) InsertInteriorCell(leftChild uint32, key int64) {
	count := n.CellCount()

	offset := n.contentOffset() - interiorCellSize
	n.setContentOffset(offset)

	encoding.PutU32(n.data, offset, leftChild)
	encoding.PutI64(n.data, offset+4, key)

	pos := n.findInsertPos(count, key, n.interiorKeyAt)
	for i := count; i > pos; i-- {
		n.setCellOffset(i, n.cellOffset(i-1))
	}
	n.setCellOffset(pos, offset)
	n.setCellCount(count + 1)
}

// DeleteCell removes slot idx. Cell content is not reclaimed; the space
// leaks until the page is rewritten on split.
func (n *Node) DeleteCell(idx int) {
	count := n.CellCount()
	for i := idx; i < count-1; i++ {
		n.setCellOffset(i, n.cellOffset(i+1))
	}
	n.setCellCount(count - 1)
}

func (n *Node) findInsertPos(count int, key int64, keyAt func(int) int64) int {
	for i := 0; i < count; i++ {
		if keyAt(i) > key {
			return i
		}
	}
	return count
}

func (n *Node) leafKeyAt(i int) int64 {
	return encoding.GetI64(n.data, n.cellOffset(i))
}

func (n *Node) interiorKeyAt(i int) int64 {
	return encoding.GetI64(n.data, n.cellOffset(i)+4)
}

// LeafKey returns the key of leaf cell i.
func (n *Node) LeafKey(i int) int64 {
	return n.leafKeyAt(i)
}

// FindLeafCell returns the slot index of key, or -1. Slots are sorted, so
// the search stops at the first larger key.
func (n *Node) FindLeafCell(key int64) int {
	count := n.CellCount()
	for i := 0; i < count; i++ {
		cellKey := n.leafKeyAt(i)
		if cellKey == key {
			return i
		}
		if cellKey > key {
			return -1
		}
	}
	return -1
}

// LeafPayload returns a copy of leaf cell i's payload, validating that the
// cell lies inside the page.
func (n *Node) LeafPayload(i int) ([]byte, error) {
	offset := n.cellOffset(i)
	if offset+leafCellOverhead > len(n.data) {
		return nil, fmt.Errorf("%w: truncated leaf cell at offset %d", ErrCorruptCell, offset)
	}
	size := int(encoding.GetU32(n.data, offset+8))
	if offset+leafCellOverhead+size > len(n.data) {
		return nil, fmt.Errorf("%w: payload extends past page end", ErrCorruptCell)
	}
	payload := make([]byte, size)
	copy(payload, n.data[offset+12:offset+12+size])
	return payload, nil
}

// InteriorLeftChild returns the left child pointer of interior cell i.
func (n *Node) InteriorLeftChild(i int) uint32 {
	return encoding.GetU32(n.data, n.cellOffset(i))
}

// SetInteriorLeftChild rewrites the left child pointer of interior cell i.
func (n *Node) SetInteriorLeftChild(i int, child uint32) {
	encoding.PutU32(n.data, n.cellOffset(i), child)
}

// InteriorKey returns the key of interior cell i.
func (n *Node) InteriorKey(i int) int64 {
	return n.interiorKeyAt(i)
}

// FindChild returns the child page to descend into for key: the left child
// of the first cell whose key is strictly greater, else the right child.
func (n *Node) FindChild(key int64) uint32 {
	count := n.CellCount()
	for i := 0; i < count; i++ {
		if key < n.interiorKeyAt(i) {
			return n.InteriorLeftChild(i)
		}
	}
	return n.RightChild()
}

// leafEntry is a decoded (key, payload) pair gathered before a split.
type leafEntry struct {
	key     int64
	payload []byte
}

func (n *Node) readLeafEntries() ([]leafEntry, error) {
	count := n.CellCount()
	entries := make([]leafEntry, 0, count)
	for i := 0; i < count; i++ {
		payload, err := n.LeafPayload(i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, leafEntry{key: n.leafKeyAt(i), payload: payload})
	}
	return entries, nil
}

// interiorEntry is a decoded (key, left_child) pair gathered before a split.
type interiorEntry struct {
	key       int64
	leftChild uint32
}

func (n *Node) readInteriorEntries() []interiorEntry {
	count := n.CellCount()
	entries := make([]interiorEntry, 0, count)
	for i := 0; i < count; i++ {
		entries = append(entries, interiorEntry{
			key:       n.interiorKeyAt(i),
			leftChild: n.InteriorLeftChild(i),
		})
	}
	return entries
}
