// pkg/pager/freelist.go
// Freelist management. Free pages form a LIFO single-linked chain: the
// header names the head, and each free page stores the next page number in
// its first four bytes (big-endian, 0 terminates the chain).
package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrFreeHeaderPage  = errors.New("cannot free header page 0")
	ErrAlreadyFree     = errors.New("page is already on freelist")
	ErrCorruptFreelist = errors.New("corrupt freelist chain")
)

// AllocatePage returns a usable zeroed page: the freelist head when one
// exists, otherwise a fresh page number extending the file.
func (p *Pager) AllocatePage() (uint32, error) {
	var pageNum uint32

	if p.header.FreelistHead != 0 {
		pageNum = p.header.FreelistHead
		if pageNum >= p.header.PageCount {
			return 0, fmt.Errorf("%w: head %d out of range (page_count=%d)",
				ErrCorruptFreelist, pageNum, p.header.PageCount)
		}

		if err := p.ensureLoaded(pageNum); err != nil {
			return 0, err
		}
		f := p.pool[pageNum]
		nextHead := binary.BigEndian.Uint32(f.data[0:4])
		if nextHead != 0 && nextHead >= p.header.PageCount {
			return 0, fmt.Errorf("%w: next pointer %d out of range (page_count=%d)",
				ErrCorruptFreelist, nextHead, p.header.PageCount)
		}

		p.header.FreelistHead = nextHead
		if p.header.FreelistCount > 0 {
			p.header.FreelistCount--
		}

		zero(f.data)
		f.dirty = true
		f.lastAccess = p.nextAccess()
	} else {
		pageNum = p.header.PageCount
		p.header.PageCount++

		if err := p.maybeEvict(); err != nil {
			return 0, err
		}
		p.pool[pageNum] = &frame{
			data:       make([]byte, p.pageSize),
			dirty:      true,
			lastAccess: p.nextAccess(),
		}
	}

	p.headerDirty = true
	p.metrics.PagesAllocated.Inc()
	return pageNum, nil
}

// FreePage links a page onto the freelist head so a later AllocatePage can
// reuse it. Page 0, out-of-range pages and pages already on the list are
// rejected.
func (p *Pager) FreePage(pageNum uint32) error {
	if pageNum == 0 {
		return ErrFreeHeaderPage
	}
	if pageNum >= p.header.PageCount {
		return fmt.Errorf("%w: page %d (page_count=%d)",
			ErrPageOutOfRange, pageNum, p.header.PageCount)
	}
	onList, err := p.freelistContains(pageNum)
	if err != nil {
		return err
	}
	if onList {
		return fmt.Errorf("%w: page %d", ErrAlreadyFree, pageNum)
	}

	nextHead := p.header.FreelistHead
	if err := p.ensureLoaded(pageNum); err != nil {
		return err
	}
	f := p.pool[pageNum]
	zero(f.data)
	binary.BigEndian.PutUint32(f.data[0:4], nextHead)
	f.dirty = true
	f.lastAccess = p.nextAccess()

	p.header.FreelistHead = pageNum
	p.header.FreelistCount++
	p.headerDirty = true
	p.metrics.PagesFreed.Inc()
	return nil
}

// freelistContains walks the chain from the header. The walk is bounded by
// page_count; anything longer means the chain loops.
func (p *Pager) freelistContains(target uint32) (bool, error) {
	current := p.header.FreelistHead
	var seen uint32
	for current != 0 {
		if current >= p.header.PageCount {
			return false, fmt.Errorf("%w: page %d out of range (page_count=%d)",
				ErrCorruptFreelist, current, p.header.PageCount)
		}
		if current == target {
			return true, nil
		}

		if err := p.ensureLoaded(current); err != nil {
			return false, err
		}
		next := binary.BigEndian.Uint32(p.pool[current].data[0:4])
		if next != 0 && next >= p.header.PageCount {
			return false, fmt.Errorf("%w: next pointer %d out of range (page_count=%d)",
				ErrCorruptFreelist, next, p.header.PageCount)
		}

		current = next
		seen++
		if seen > p.header.PageCount {
			return false, fmt.Errorf("%w: loop detected", ErrCorruptFreelist)
		}
	}
	return false, nil
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
