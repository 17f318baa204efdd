// Package slottedpage implements the slotted variable-length page layout:
// a bottom-growing record heap, a top-growing slot directory, tombstone
// deletes, and compaction (spec.md §4.6). The header and slot directory are
// 4-char ASCII decimal integers, the same convention the original's
// intTo4CharStr applies to every header field it writes.
package slottedpage

import (
	"fmt"
	"strconv"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// intFieldWidth is the width of every ASCII-decimal header and slot
// directory field: 4 chars, matching intTo4CharStr.
const intFieldWidth = 4

// headerSize is two 4-char ASCII ints: num_records, heap_end.
const headerSize = 2 * intFieldWidth

// slotSize is one (offset, length) directory entry, each a 4-char ASCII int.
const slotSize = 2 * intFieldWidth

// tombstoneOffset marks a slot whose record bytes have been logically
// deleted but not yet reclaimed.
const tombstoneOffset = -1

// Page is a slottedpage-formatted block, decoded in place over a
// buffer-pool owned byte slice.
type Page struct {
	buf []byte
}

// Wrap views an existing block buffer as a slotted page.
func Wrap(buf []byte) *Page {
	return &Page{buf: buf}
}

// Init writes a fresh empty header: no records, heap starting at the end
// of the block.
func Init(buf []byte) *Page {
	p := &Page{buf: buf}
	p.setNumRecords(0)
	p.setHeapEnd(len(buf))
	return p
}

// getInt reads a 4-char ASCII decimal integer at byte offset off.
func (p *Page) getInt(off int) int {
	v, _ := strconv.Atoi(string(p.buf[off : off+intFieldWidth]))
	return v
}

// setInt writes v as a 4-char ASCII decimal integer at byte offset off.
func (p *Page) setInt(off, v int) {
	s := fmt.Sprintf("%0*d", intFieldWidth, v)
	if len(s) != intFieldWidth {
		// Values out of 4-digit ASCII range never occur for this page's
		// geometry, but guard against silent truncation: write the
		// out-of-range marker instead of a cut-down number. getInt reads
		// the marker as 0.
		s = "####"
	}
	copy(p.buf[off:off+intFieldWidth], s)
}

func (p *Page) NumRecords() int { return p.getInt(0) }
func (p *Page) HeapEnd() int    { return p.getInt(intFieldWidth) }

func (p *Page) setNumRecords(n int) { p.setInt(0, n) }
func (p *Page) setHeapEnd(v int)    { p.setInt(intFieldWidth, v) }

func (p *Page) slotDirOffset(slot int) int { return headerSize + slot*slotSize }

func (p *Page) slotOffset(slot int) int {
	return p.getInt(p.slotDirOffset(slot))
}

func (p *Page) slotLength(slot int) int {
	return p.getInt(p.slotDirOffset(slot) + intFieldWidth)
}

func (p *Page) setSlot(slot, offset, length int) {
	off := p.slotDirOffset(slot)
	p.setInt(off, offset)
	p.setInt(off+intFieldWidth, length)
}

// Insert appends payload to the heap and a new slot to the directory,
// failing if there is not enough contiguous free space for both.
func (p *Page) Insert(payload []byte) (int, error) {
	numRecords := p.NumRecords()
	heapEnd := p.HeapEnd()
	needed := slotSize + len(payload)
	dirEnd := headerSize + numRecords*slotSize

	if heapEnd-len(payload) < dirEnd+slotSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", sgerrors.ErrOutOfSpace, needed, heapEnd-dirEnd)
	}

	newHeapEnd := heapEnd - len(payload)
	copy(p.buf[newHeapEnd:heapEnd], payload)

	slot := numRecords
	p.setSlot(slot, newHeapEnd, len(payload))
	p.setNumRecords(numRecords + 1)
	p.setHeapEnd(newHeapEnd)

	return slot, nil
}

// Delete tombstones slot by setting its offset to -1. The payload bytes
// are not reclaimed until Compact runs.
func (p *Page) Delete(slot int) error {
	if slot < 0 || slot >= p.NumRecords() {
		return fmt.Errorf("%w: slot %d", sgerrors.ErrOutOfBounds, slot)
	}
	p.setSlot(slot, tombstoneOffset, p.slotLength(slot))
	return nil
}

// Record returns the live payload at slot, or an error if slot is
// tombstoned or out of range.
func (p *Page) Record(slot int) ([]byte, error) {
	if slot < 0 || slot >= p.NumRecords() {
		return nil, fmt.Errorf("%w: slot %d", sgerrors.ErrOutOfBounds, slot)
	}
	off := p.slotOffset(slot)
	if off == tombstoneOffset {
		return nil, fmt.Errorf("%w: slot %d is deleted", sgerrors.ErrNotFound, slot)
	}
	length := p.slotLength(slot)
	return p.buf[off : off+length], nil
}

// Scan returns the slot indices that are still live.
func (p *Page) Scan() []int {
	var live []int
	for slot := 0; slot < p.NumRecords(); slot++ {
		if p.slotOffset(slot) != tombstoneOffset {
			live = append(live, slot)
		}
	}
	return live
}

// Compact rewrites the page, dropping tombstoned slots and rebuilding a
// contiguous slot directory and heap. Live slot indices may be renumbered;
// it returns the mapping from old slot index to new slot index (entries
// for dropped slots are absent).
func (p *Page) Compact() map[int]int {
	type liveRec struct {
		oldSlot int
		data    []byte
	}

	var records []liveRec
	for slot := 0; slot < p.NumRecords(); slot++ {
		if p.slotOffset(slot) == tombstoneOffset {
			continue
		}
		rec, _ := p.Record(slot)
		cp := make([]byte, len(rec))
		copy(cp, rec)
		records = append(records, liveRec{oldSlot: slot, data: cp})
	}

	blockSize := len(p.buf)
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.setNumRecords(0)
	p.setHeapEnd(blockSize)

	mapping := make(map[int]int, len(records))
	for _, r := range records {
		newSlot, err := p.Insert(r.data)
		if err != nil {
			// Compaction of records that previously fit cannot fail:
			// the rewritten layout never occupies more space than the
			// pre-compaction page did.
			panic(fmt.Sprintf("slottedpage: compact: re-insert failed: %v", err))
		}
		mapping[r.oldSlot] = newSlot
	}

	return mapping
}
