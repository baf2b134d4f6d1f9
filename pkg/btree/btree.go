// pkg/btree/btree.go
// Package btree implements the B+tree used for tables, indexes and the
// schema catalog. Keys are signed 64-bit integers; payloads are opaque
// bytes. Interior pages route through (key, left_child) cells plus a
// right child; leaves hold the payloads and are chained through next_leaf
// pointers in ascending key order, which is what makes range scans cheap.
package btree

import (
	"errors"
	"fmt"
	"sort"

	"keel/pkg/pager"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrPayloadTooLarge = errors.New("payload too large for page")
)

// Entry is a (key, payload) pair yielded by scans.
type Entry struct {
	Key     int64
	Payload []byte
}

// BTree is a handle on a tree rooted at a given page. The root page number
// is handle state: it changes when an insert splits the root, so callers
// that persist roots must re-read RootPage after mutating.
type BTree struct {
	pager    *pager.Pager
	rootPage uint32
}

// New opens a handle on an existing tree.
func New(p *pager.Pager, rootPage uint32) *BTree {
	return &BTree{pager: p, rootPage: rootPage}
}

// Create allocates a new root page initialized as an empty leaf and
// returns its page number.
func Create(p *pager.Pager) (uint32, error) {
	pageNum, err := p.AllocatePage()
	if err != nil {
		return 0, err
	}
	data, err := p.WritePage(pageNum)
	if err != nil {
		return 0, err
	}
	InitLeaf(data)
	return pageNum, nil
}

// RootPage returns the current root page number.
func (bt *BTree) RootPage() uint32 {
	return bt.rootPage
}

// split reports a node split to the parent level: medianKey separates the
// original page from newPage, its right sibling.
type split struct {
	medianKey int64
	newPage   uint32
}

// Insert stores a key-payload pair, replacing the payload if the key
// already exists.
func (bt *BTree) Insert(key int64, payload []byte) error {
	if maxPayload := bt.pager.PageSize() - nodeHeaderSize - leafCellOverhead - slotSize; len(payload) > maxPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxPayload)
	}

	sp, err := bt.insertInto(bt.rootPage, key, payload)
	if err != nil {
		return err
	}
	if sp == nil {
		return nil
	}

	// Root split: the tree grows a level.
	oldRoot := bt.rootPage
	newRoot, err := bt.pager.AllocatePage()
	if err != nil {
		return err
	}
	data, err := bt.pager.WritePage(newRoot)
	if err != nil {
		return err
	}
	node := InitInterior(data)
	node.SetRightChild(sp.newPage)
	node.InsertInteriorCell(oldRoot, sp.medianKey)
	bt.rootPage = newRoot
	return nil
}

func (bt *BTree) insertInto(pageNum uint32, key int64, payload []byte) (*split, error) {
	data, err := bt.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}

	switch data[offType] {
	case PageTypeLeaf:
		return bt.insertIntoLeaf(pageNum, key, payload)
	case PageTypeInterior:
		return bt.insertIntoInterior(pageNum, key, payload)
	default:
		return nil, fmt.Errorf("%w: %d on page %d", ErrUnknownPageType, data[offType], pageNum)
	}
}

func (bt *BTree) insertIntoLeaf(pageNum uint32, key int64, payload []byte) (*split, error) {
	data, err := bt.pager.WritePage(pageNum)
	if err != nil {
		return nil, err
	}
	node := LoadNode(data)

	// Upsert: drop the existing slot, then insert as usual. The old cell
	// content leaks until this page is rewritten by a split.
	if idx := node.FindLeafCell(key); idx >= 0 {
		node.DeleteCell(idx)
	}

	if node.HasRoomLeaf(len(payload)) {
		node.InsertLeafCell(key, payload)
		return nil, nil
	}
	return bt.splitLeaf(pageNum, key, payload)
}

func (bt *BTree) splitLeaf(pageNum uint32, newKey int64, newPayload []byte) (*split, error) {
	data, err := bt.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	node := LoadNode(data)

	entries, err := node.readLeafEntries()
	if err != nil {
		return nil, err
	}
	entries = append(entries, leafEntry{key: newKey, payload: append([]byte(nil), newPayload...)})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	splitPoint := len(entries) / 2
	left := entries[:splitPoint]
	right := entries[splitPoint:]
	medianKey := right[0].key
	oldNextLeaf := node.NextLeaf()

	// The entries are copied out, so allocating (which may evict this very
	// page) is safe from here on.
	newPage, err := bt.pager.AllocatePage()
	if err != nil {
		return nil, err
	}

	rightData, err := bt.pager.WritePage(newPage)
	if err != nil {
		return nil, err
	}
	rightNode := InitLeaf(rightData)
	rightNode.SetNextLeaf(oldNextLeaf)
	for _, e := range right {
		rightNode.InsertLeafCell(e.key, e.payload)
	}

	leftData, err := bt.pager.WritePage(pageNum)
	if err != nil {
		return nil, err
	}
	leftNode := InitLeaf(leftData)
	leftNode.SetNextLeaf(newPage)
	for _, e := range left {
		leftNode.InsertLeafCell(e.key, e.payload)
	}

	return &split{medianKey: medianKey, newPage: newPage}, nil
}

func (bt *BTree) insertIntoInterior(pageNum uint32, key int64, payload []byte) (*split, error) {
	data, err := bt.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	child := LoadNode(data).FindChild(key)

	childSplit, err := bt.insertInto(child, key, payload)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}

	// The child split; this page needs a new routing cell. Re-fetch the
	// page: the recursion may have evicted it.
	data, err = bt.pager.WritePage(pageNum)
	if err != nil {
		return nil, err
	}
	node := LoadNode(data)

	if node.HasRoomInterior() {
		insertRoutingCell(node, childSplit.medianKey, childSplit.newPage)
		return nil, nil
	}
	return bt.splitInterior(pageNum, childSplit.medianKey, childSplit.newPage)
}

// insertRoutingCell places a promoted key into an interior node. The new
// child holds keys >= the promoted key, so it becomes the pointer to the
// promoted cell's right: either the next cell's left child or the page's
// right child.
func insertRoutingCell(node *Node, key int64, newChild uint32) {
	count := node.CellCount()
	pos := node.findInsertPos(count, key, node.interiorKeyAt)

	if pos == count {
		oldRight := node.RightChild()
		node.InsertInteriorCell(oldRight, key)
		node.SetRightChild(newChild)
		return
	}

	oldLeft := node.InteriorLeftChild(pos)
	node.InsertInteriorCell(oldLeft, key)
	// The cell previously at pos moved to pos+1; its subtree now starts at
	// the promoted key, so its left child becomes the new page.
	node.SetInteriorLeftChild(pos+1, newChild)
}

func (bt *BTree) splitInterior(pageNum uint32, newKey int64, newChild uint32) (*split, error) {
	data, err := bt.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	node := LoadNode(data)

	entries := node.readInteriorEntries()
	oldRightChild := node.RightChild()

	insertPos := len(entries)
	for i, e := range entries {
		if e.key > newKey {
			insertPos = i
			break
		}
	}
	insertedAtEnd := insertPos == len(entries)

	if insertedAtEnd {
		entries = append(entries, interiorEntry{key: newKey, leftChild: oldRightChild})
	} else {
		oldLeft := entries[insertPos].leftChild
		entries = append(entries, interiorEntry{})
		copy(entries[insertPos+1:], entries[insertPos:])
		entries[insertPos] = interiorEntry{key: newKey, leftChild: oldLeft}
		entries[insertPos+1].leftChild = newChild
	}

	finalRightChild := oldRightChild
	if insertedAtEnd {
		finalRightChild = newChild
	}

	splitPoint := len(entries) / 2
	left := entries[:splitPoint]
	median := entries[splitPoint].key
	rightLeftChild := entries[splitPoint].leftChild
	right := entries[splitPoint+1:]

	newPage, err := bt.pager.AllocatePage()
	if err != nil {
		return nil, err
	}

	rightData, err := bt.pager.WritePage(newPage)
	if err != nil {
		return nil, err
	}
	rightNode := InitInterior(rightData)
	rightNode.SetRightChild(finalRightChild)
	for _, e := range right {
		rightNode.InsertInteriorCell(e.leftChild, e.key)
	}

	// The promoted cell's left child becomes the left page's right child:
	// it covers the keys between the last left key and the median.
	leftData, err := bt.pager.WritePage(pageNum)
	if err != nil {
		return nil, err
	}
	leftNode := InitInterior(leftData)
	leftNode.SetRightChild(rightLeftChild)
	for _, e := range left {
		leftNode.InsertInteriorCell(e.leftChild, e.key)
	}

	return &split{medianKey: median, newPage: newPage}, nil
}

// Lookup returns the payload stored under key, or ErrKeyNotFound.
func (bt *BTree) Lookup(key int64) ([]byte, error) {
	pageNum := bt.rootPage
	for {
		data, err := bt.pager.ReadPage(pageNum)
		if err != nil {
			return nil, err
		}
		node := LoadNode(data)

		switch node.Type() {
		case PageTypeLeaf:
			idx := node.FindLeafCell(key)
			if idx < 0 {
				return nil, ErrKeyNotFound
			}
			return node.LeafPayload(idx)
		case PageTypeInterior:
			pageNum = node.FindChild(key)
		default:
			return nil, fmt.Errorf("%w: %d on page %d", ErrUnknownPageType, node.Type(), pageNum)
		}
	}
}

// ScanAll returns every entry in ascending key order by walking the leaf
// chain from the leftmost leaf.
func (bt *BTree) ScanAll() ([]Entry, error) {
	c := bt.Cursor()
	defer c.Close()

	var entries []Entry
	for c.First(); c.Valid(); c.Next() {
		entries = append(entries, Entry{Key: c.Key(), Payload: c.Payload()})
	}
	return entries, c.Err()
}

// ScanRange returns entries with minKey <= key <= maxKey in ascending
// order.
func (bt *BTree) ScanRange(minKey, maxKey int64) ([]Entry, error) {
	c := bt.Cursor()
	defer c.Close()

	var entries []Entry
	for c.Seek(minKey); c.Valid(); c.Next() {
		if c.Key() > maxKey {
			break
		}
		entries = append(entries, Entry{Key: c.Key(), Payload: c.Payload()})
	}
	return entries, c.Err()
}
