// Package bitmap implements the 1-bit-per-block free-space map persisted
// in block 1 of the device (spec.md §4.2).
package bitmap

import (
	"fmt"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// BlockIndex is the reserved device block that holds the packed bitmap.
const BlockIndex = 1

// reservedBlocks is the number of low block indices that first_free never
// returns: block 0 (catalog) and block 1 (bitmap itself).
const reservedBlocks = 2

// blockReader/blockWriter are the minimal Device operations the allocator
// needs, kept narrow so tests can fake them without a full device.
type blockReader interface {
	ReadBlock(idx int) ([]byte, error)
}

type blockWriter interface {
	WriteBlock(idx int, data []byte) error
}

// Allocator is an in-memory bit vector of length totalBlocks, persisted as
// packed bits (LSB-first within each byte) into block 1.
type Allocator struct {
	bits        []bool
	blockSize   int
	totalBlocks int
}

// New creates an allocator sized for totalBlocks, with every bit clear.
// Callers must call Load (and handle an invalid/uninitialized bitmap per
// its return value) or explicitly initialize blocks 0 and 1 before use.
func New(totalBlocks, blockSize int) *Allocator {
	return &Allocator{
		bits:        make([]bool, totalBlocks),
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}
}

// Load reads block 1 and unpacks it. The returned bool is false when bits 0
// and 1 are not both set, which spec.md §4.2 defines as "uninitialized or
// corrupt" - the caller must then re-initialize by marking 0 and 1
// allocated and persisting.
func (a *Allocator) Load(dev blockReader) (bool, error) {
	raw, err := dev.ReadBlock(BlockIndex)
	if err != nil {
		return false, fmt.Errorf("loading bitmap: %w", err)
	}

	needed := (a.totalBlocks + 7) / 8
	if len(raw) < needed {
		return false, nil
	}

	bits := make([]bool, a.totalBlocks)
	for i := 0; i < a.totalBlocks; i++ {
		bits[i] = raw[i/8]&(1<<uint(i%8)) != 0
	}
	a.bits = bits

	if !a.bits[0] || !a.bits[1] {
		return false, nil
	}
	return true, nil
}

// Save packs the bit vector into a full block buffer and writes it to
// block 1.
func (a *Allocator) Save(dev blockWriter) error {
	packed := make([]byte, (a.totalBlocks+7)/8)
	for i, set := range a.bits {
		if set {
			packed[i/8] |= 1 << uint(i%8)
		}
	}

	block := make([]byte, a.blockSize)
	copy(block, packed)

	if err := dev.WriteBlock(BlockIndex, block); err != nil {
		return fmt.Errorf("saving bitmap: %w", err)
	}
	return nil
}

// Set marks block i allocated (v=true) or free (v=false).
func (a *Allocator) Set(i int, v bool) error {
	if i < 0 || i >= a.totalBlocks {
		return fmt.Errorf("%w: bitmap index %d", sgerrors.ErrOutOfBounds, i)
	}
	a.bits[i] = v
	return nil
}

// Get reports whether block i is allocated.
func (a *Allocator) Get(i int) (bool, error) {
	if i < 0 || i >= a.totalBlocks {
		return false, fmt.Errorf("%w: bitmap index %d", sgerrors.ErrOutOfBounds, i)
	}
	return a.bits[i], nil
}

// FirstFree scans from index 2 upward and returns the first free block, or
// -1 if none is available. Blocks 0 and 1 are never returned.
func (a *Allocator) FirstFree() int {
	for i := reservedBlocks; i < a.totalBlocks; i++ {
		if !a.bits[i] {
			return i
		}
	}
	return -1
}

// InitReserved marks blocks 0 and 1 allocated. Called when Load reports an
// uninitialized bitmap.
func (a *Allocator) InitReserved() {
	a.bits[0] = true
	a.bits[1] = true
}

// Size returns the total number of blocks the bitmap tracks.
func (a *Allocator) Size() int { return a.totalBlocks }
