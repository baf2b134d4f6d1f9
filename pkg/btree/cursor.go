// pkg/btree/cursor.go
package btree

import "fmt"

// Cursor iterates leaf entries in ascending key order by walking the
// next_leaf chain. The current leaf is pinned in the buffer pool so its
// frame cannot be evicted between steps; Close releases the pin.
type Cursor struct {
	btree *BTree

	pageNum uint32 // current leaf (pinned while valid)
	node    *Node
	pos     int

	pinned bool
	valid  bool
	err    error
}

// Cursor creates a new cursor positioned before the first entry.
func (bt *BTree) Cursor() *Cursor {
	return &Cursor{btree: bt}
}

// First positions the cursor on the smallest key.
func (c *Cursor) First() {
	c.release()

	pageNum := c.btree.rootPage
	for {
		data, err := c.btree.pager.ReadPage(pageNum)
		if err != nil {
			c.fail(err)
			return
		}
		node := LoadNode(data)

		switch node.Type() {
		case PageTypeLeaf:
			c.landOn(pageNum, node, 0)
			return
		case PageTypeInterior:
			// Leftmost child; an empty interior page only has its right
			// child.
			if node.CellCount() > 0 {
				pageNum = node.InteriorLeftChild(0)
			} else {
				pageNum = node.RightChild()
			}
		default:
			c.fail(fmt.Errorf("%w: %d on page %d", ErrUnknownPageType, node.Type(), pageNum))
			return
		}
	}
}

// Seek positions the cursor on the first entry with key >= target.
func (c *Cursor) Seek(target int64) {
	c.release()

	pageNum := c.btree.rootPage
	for {
		data, err := c.btree.pager.ReadPage(pageNum)
		if err != nil {
			c.fail(err)
			return
		}
		node := LoadNode(data)

		switch node.Type() {
		case PageTypeLeaf:
			count := node.CellCount()
			pos := count
			for i := 0; i < count; i++ {
				if node.LeafKey(i) >= target {
					pos = i
					break
				}
			}
			c.landOn(pageNum, node, pos)
			return
		case PageTypeInterior:
			pageNum = node.FindChild(target)
		default:
			c.fail(fmt.Errorf("%w: %d on page %d", ErrUnknownPageType, node.Type(), pageNum))
			return
		}
	}
}

// Next advances to the next entry, following the leaf chain when the
// current leaf is exhausted.
func (c *Cursor) Next() {
	if !c.valid {
		return
	}
	c.pos++
	if c.pos < c.node.CellCount() {
		return
	}
	c.advanceLeaf()
}

// landOn pins a leaf and settles on pos, moving right past exhausted
// leaves.
func (c *Cursor) landOn(pageNum uint32, node *Node, pos int) {
	c.pageNum = pageNum
	c.node = node
	c.pos = pos
	c.btree.pager.Pin(pageNum)
	c.pinned = true

	if c.pos < c.node.CellCount() {
		c.valid = true
		return
	}
	c.advanceLeaf()
}

func (c *Cursor) advanceLeaf() {
	for {
		next := c.node.NextLeaf()
		c.unpin()
		if next == 0 {
			c.valid = false
			return
		}

		data, err := c.btree.pager.ReadPage(next)
		if err != nil {
			c.fail(err)
			return
		}
		c.pageNum = next
		c.node = LoadNode(data)
		c.pos = 0
		c.btree.pager.Pin(next)
		c.pinned = true

		if c.node.CellCount() > 0 {
			c.valid = true
			return
		}
	}
}

// Valid reports whether the cursor points at an entry.
func (c *Cursor) Valid() bool {
	return c.valid
}

// Err returns the first error the cursor hit, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Key returns the current entry's key.
func (c *Cursor) Key() int64 {
	if !c.valid {
		return 0
	}
	return c.node.LeafKey(c.pos)
}

// Payload returns a copy of the current entry's payload.
func (c *Cursor) Payload() []byte {
	if !c.valid {
		return nil
	}
	payload, err := c.node.LeafPayload(c.pos)
	if err != nil {
		c.fail(err)
		return nil
	}
	return payload
}

// Close releases the pin on the current leaf.
func (c *Cursor) Close() {
	c.release()
}

func (c *Cursor) release() {
	c.unpin()
	c.node = nil
	c.valid = false
}

func (c *Cursor) unpin() {
	if c.pinned {
		c.btree.pager.Unpin(c.pageNum)
		c.pinned = false
	}
}

func (c *Cursor) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.unpin()
	c.node = nil
	c.valid = false
}
