// Package buffer implements a fixed-size pool of pinnable page frames with
// pluggable LRU/CLOCK replacement (spec.md §4.3), writing dirty victims
// back through the device on eviction.
package buffer

import (
	"fmt"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// Policy selects the victim-selection algorithm.
type Policy int

const (
	// LRU evicts the unpinned frame with the smallest last-access
	// timestamp.
	LRU Policy = iota
	// Clock evicts the first unpinned frame found with its reference bit
	// clear, scanning circularly from the clock hand.
	Clock
)

// ParsePolicy maps the shell/config string form ("lru"|"clock") to a
// Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "lru":
		return LRU, nil
	case "clock":
		return Clock, nil
	default:
		return 0, fmt.Errorf("%w: unknown replacement policy %q", sgerrors.ErrInvalidArgument, s)
	}
}

// frame is one slot in the pool.
type frame struct {
	blockID int // -1 if empty
	data    []byte
	dirty   bool
	ts      int64
	pin     uint32
	ref     bool
}

// Device is the subset of device.Device the pool needs.
type Device interface {
	ReadBlock(idx int) ([]byte, error)
	WriteBlock(idx int, data []byte) error
}

// Pool is the buffer pool: a fixed set of frames shared by every page
// format and by callers needing raw block access.
type Pool struct {
	dev       Device
	policy    Policy
	frames    []frame
	byBlock   map[int]int // blockID -> frame index
	now       int64
	clockHand int
}

// New creates a pool with frameCount frames, backed by dev, using policy
// for victim selection.
func New(dev Device, frameCount int, policy Policy) (*Pool, error) {
	if frameCount <= 0 {
		return nil, fmt.Errorf("%w: frame count must be positive, got %d", sgerrors.ErrInvalidArgument, frameCount)
	}

	frames := make([]frame, frameCount)
	for i := range frames {
		frames[i].blockID = -1
	}

	return &Pool{
		dev:     dev,
		policy:  policy,
		frames:  frames,
		byBlock: make(map[int]int, frameCount),
	}, nil
}

// GetBlock returns the buffer for id, fetching it into the pool (possibly
// evicting a victim) if it isn't already resident. The returned slice is
// owned by the pool; callers must pin the block before holding a reference
// across other pool operations.
func (p *Pool) GetBlock(id int) ([]byte, error) {
	p.now++

	if idx, ok := p.byBlock[id]; ok {
		p.frames[idx].ts = p.now
		if p.policy == Clock {
			p.frames[idx].ref = true
		}
		return p.frames[idx].data, nil
	}

	idx, err := p.evict()
	if err != nil {
		return nil, err
	}

	victim := &p.frames[idx]
	if victim.dirty && victim.blockID != -1 {
		if err := p.dev.WriteBlock(victim.blockID, victim.data); err != nil {
			return nil, fmt.Errorf("%w: writing back victim block %d: %v", sgerrors.ErrIO, victim.blockID, err)
		}
	}
	if victim.blockID != -1 {
		delete(p.byBlock, victim.blockID)
	}

	data, err := p.dev.ReadBlock(id)
	if err != nil {
		return nil, fmt.Errorf("%w: loading block %d: %v", sgerrors.ErrIO, id, err)
	}

	victim.blockID = id
	victim.data = data
	victim.dirty = false
	victim.ts = p.now
	victim.pin = 0
	victim.ref = p.policy == Clock

	p.byBlock[id] = idx
	return victim.data, nil
}

// MarkDirty flags id's frame as needing write-back.
func (p *Pool) MarkDirty(id int) error {
	idx, ok := p.byBlock[id]
	if !ok {
		return fmt.Errorf("%w: mark dirty on unmapped block %d", sgerrors.ErrInvalidArgument, id)
	}
	p.frames[idx].dirty = true
	return nil
}

// Pin increments id's pin count, protecting it from eviction.
func (p *Pool) Pin(id int) error {
	idx, ok := p.byBlock[id]
	if !ok {
		return fmt.Errorf("%w: pin on unmapped block %d", sgerrors.ErrInvalidArgument, id)
	}
	p.frames[idx].pin++
	return nil
}

// Unpin decrements id's pin count. Unpinning an already-zero-pin block is
// an error (spec.md §4.3).
func (p *Pool) Unpin(id int) error {
	idx, ok := p.byBlock[id]
	if !ok {
		return fmt.Errorf("%w: unpin on unmapped block %d", sgerrors.ErrInvalidArgument, id)
	}
	if p.frames[idx].pin == 0 {
		return fmt.Errorf("%w: unpin on unpinned block %d", sgerrors.ErrInvalidArgument, id)
	}
	p.frames[idx].pin--
	return nil
}

// FlushBlock writes id back to the device if dirty, then clears the dirty
// bit. No-op if id isn't resident.
func (p *Pool) FlushBlock(id int) error {
	idx, ok := p.byBlock[id]
	if !ok {
		return nil
	}
	f := &p.frames[idx]
	if !f.dirty {
		return nil
	}
	if err := p.dev.WriteBlock(id, f.data); err != nil {
		return fmt.Errorf("%w: flushing block %d: %v", sgerrors.ErrIO, id, err)
	}
	f.dirty = false
	return nil
}

// FlushAll writes back every dirty live frame.
func (p *Pool) FlushAll() error {
	for i := range p.frames {
		f := &p.frames[i]
		if f.dirty && f.blockID != -1 {
			if err := p.dev.WriteBlock(f.blockID, f.data); err != nil {
				return fmt.Errorf("%w: flushing block %d: %v", sgerrors.ErrIO, f.blockID, err)
			}
			f.dirty = false
		}
	}
	return nil
}

// evict selects a victim frame index per the configured policy, without
// writing it back or clearing its map entry - the caller does that.
func (p *Pool) evict() (int, error) {
	switch p.policy {
	case LRU:
		return p.evictLRU()
	case Clock:
		return p.evictClock()
	default:
		return 0, fmt.Errorf("%w: unknown replacement policy", sgerrors.ErrInvalidArgument)
	}
}

func (p *Pool) evictLRU() (int, error) {
	for i, f := range p.frames {
		if f.blockID == -1 {
			return i, nil
		}
	}

	best := -1
	var bestTS int64
	for i, f := range p.frames {
		if f.pin != 0 {
			continue
		}
		if best == -1 || f.ts < bestTS {
			best = i
			bestTS = f.ts
		}
	}
	if best == -1 {
		return 0, fmt.Errorf("%w: no frame available to evict (all pinned)", sgerrors.ErrInvalidArgument)
	}
	return best, nil
}

func (p *Pool) evictClock() (int, error) {
	for i, f := range p.frames {
		if f.blockID == -1 {
			return i, nil
		}
	}

	scanned := 0
	limit := 2 * len(p.frames)
	for scanned < limit {
		f := &p.frames[p.clockHand]
		if f.pin == 0 {
			if !f.ref {
				idx := p.clockHand
				p.clockHand = (p.clockHand + 1) % len(p.frames)
				return idx, nil
			}
			f.ref = false
		}
		p.clockHand = (p.clockHand + 1) % len(p.frames)
		scanned++
	}

	return 0, fmt.Errorf("%w: no frame available to evict (all pinned)", sgerrors.ErrInvalidArgument)
}

// FrameCount returns the number of frames in the pool.
func (p *Pool) FrameCount() int { return len(p.frames) }

// Status is a diagnostic snapshot of one frame, for the shell's
// buffer_status command.
type Status struct {
	Index   int
	BlockID int
	Dirty   bool
	Ts      int64
	Pin     uint32
	Ref     bool
	IsHand  bool
}

// Statuses returns a snapshot of every frame's state.
func (p *Pool) Statuses() []Status {
	out := make([]Status, len(p.frames))
	for i, f := range p.frames {
		out[i] = Status{
			Index:   i,
			BlockID: f.blockID,
			Dirty:   f.dirty,
			Ts:      f.ts,
			Pin:     f.pin,
			Ref:     f.ref,
			IsHand:  p.policy == Clock && i == p.clockHand,
		}
	}
	return out
}

// Policy returns the pool's configured replacement policy.
func (p *Pool) Policy() Policy { return p.policy }
