// Package fixedpage implements the fixed-slot page layout: a header plus a
// flat array of record_size-byte slots, with deleted slots forming a
// singly-linked free stack stored in their own payload bytes (spec.md §4.5).
package fixedpage

import (
	"fmt"
	"strconv"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// headerSize is four 4-char ASCII integers: free_list_head, record_size,
// capacity, active_records.
const headerSize = 16
const intFieldWidth = 4

// Page is a fixedpage-formatted block, decoded in place over a buffer-pool
// owned byte slice.
type Page struct {
	buf []byte
}

// Wrap views an existing block buffer as a fixed page. The buffer is not
// copied; writes through Page mutate it directly.
func Wrap(buf []byte) *Page {
	return &Page{buf: buf}
}

// Init writes a fresh header for a page that will hold recordSize-byte
// records, with capacity computed from the remaining space.
func Init(buf []byte, recordSize int) (*Page, error) {
	if recordSize <= 0 {
		return nil, fmt.Errorf("%w: record size must be positive", sgerrors.ErrInvalidArgument)
	}
	capacity := (len(buf) - headerSize) / recordSize
	p := &Page{buf: buf}
	p.setInt(0, -1)
	p.setInt(1, recordSize)
	p.setInt(2, capacity)
	p.setInt(3, 0)
	return p, nil
}

func (p *Page) intOffset(field int) int { return field * intFieldWidth }

func (p *Page) getInt(field int) int {
	off := p.intOffset(field)
	v, _ := strconv.Atoi(string(p.buf[off : off+intFieldWidth]))
	return v
}

func (p *Page) setInt(field, v int) {
	off := p.intOffset(field)
	s := fmt.Sprintf("%04d", v)
	if v < 0 {
		s = fmt.Sprintf("%0*d", intFieldWidth, v)
	}
	if len(s) != intFieldWidth {
		// Values out of 4-digit ASCII range never occur for this page's
		// geometry (block sizes and slot counts fit comfortably), but
		// guard against silent truncation: write the out-of-range marker
		// instead of a cut-down number. getInt reads the marker as 0.
		s = "####"
	}
	copy(p.buf[off:off+intFieldWidth], s)
}

// FreeListHead returns the slot index at the top of the free stack, or -1.
func (p *Page) FreeListHead() int { return p.getInt(0) }

// RecordSize returns the configured record width.
func (p *Page) RecordSize() int { return p.getInt(1) }

// Capacity returns the maximum number of slots the page holds.
func (p *Page) Capacity() int { return p.getInt(2) }

// ActiveRecords returns the number of live (non-deleted) slots.
func (p *Page) ActiveRecords() int { return p.getInt(3) }

func (p *Page) slotOffset(slot int) int { return headerSize + slot*p.RecordSize() }

// Insert writes record into the first available slot, returning its index.
func (p *Page) Insert(rec []byte) (int, error) {
	recordSize := p.RecordSize()
	if len(rec) != recordSize {
		return 0, fmt.Errorf("%w: record is %d bytes, page wants %d", sgerrors.ErrSchemaMismatch, len(rec), recordSize)
	}

	freeHead := p.FreeListHead()
	active := p.ActiveRecords()
	capacity := p.Capacity()

	var slot int
	if freeHead != -1 {
		slot = freeHead
		next := p.readFreePointer(slot)
		p.setInt(0, next)
	} else {
		if active == capacity {
			return 0, fmt.Errorf("%w: page is full (capacity %d)", sgerrors.ErrOutOfSpace, capacity)
		}
		slot = active
	}

	off := p.slotOffset(slot)
	for i := 0; i < recordSize; i++ {
		p.buf[off+i] = 0
	}
	copy(p.buf[off:off+recordSize], rec)
	p.setInt(3, active+1)

	return slot, nil
}

// Delete pushes slot onto the free stack, encoding the current
// free_list_head as a 4-char ASCII int into the slot's first bytes.
func (p *Page) Delete(slot int) error {
	if slot < 0 || slot >= p.Capacity() {
		return fmt.Errorf("%w: slot %d", sgerrors.ErrOutOfBounds, slot)
	}
	off := p.slotOffset(slot)
	head := p.FreeListHead()
	s := fmt.Sprintf("%0*d", intFieldWidth, head)
	copy(p.buf[off:off+intFieldWidth], s)
	p.setInt(0, slot)
	p.setInt(3, p.ActiveRecords()-1)
	return nil
}

// readFreePointer decodes the 4-char ASCII next-pointer stored at slot's
// first bytes.
func (p *Page) readFreePointer(slot int) int {
	off := p.slotOffset(slot)
	v, _ := strconv.Atoi(string(p.buf[off : off+intFieldWidth]))
	return v
}

// Record returns the raw bytes of slot, regardless of whether it is live.
func (p *Page) Record(slot int) ([]byte, error) {
	if slot < 0 || slot >= p.Capacity() {
		return nil, fmt.Errorf("%w: slot %d", sgerrors.ErrOutOfBounds, slot)
	}
	off := p.slotOffset(slot)
	return p.buf[off : off+p.RecordSize()], nil
}

// Scan returns the set of live slot indices, computed as every slot below
// the high-water mark that is not reachable from the free-list chain.
func (p *Page) Scan() []int {
	active := p.ActiveRecords()
	deletedCount := 0
	deleted := make(map[int]bool)
	for head := p.FreeListHead(); head != -1; {
		deleted[head] = true
		deletedCount++
		head = p.readFreePointer(head)
	}

	total := active + deletedCount
	live := make([]int, 0, active)
	for slot := 0; slot < total; slot++ {
		if !deleted[slot] {
			live = append(live, slot)
		}
	}
	return live
}
