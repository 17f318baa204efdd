// Package engine orchestrates the device, bitmap allocator, buffer pool,
// catalog, page formats, and hash indices into the relation operations
// spec.md §4.8 describes: create/drop relation, insert, scan/delete/modify
// with a predicate, and primary-key index acceleration.
//
// Engine is not safe for concurrent use from multiple goroutines (spec.md
// §5): every mutating operation assumes exclusive, sequential access.
package engine

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/sgbd-go/sgbd/internal/bitmap"
	"github.com/sgbd-go/sgbd/internal/buffer"
	"github.com/sgbd-go/sgbd/internal/catalog"
	"github.com/sgbd-go/sgbd/internal/device"
	"github.com/sgbd-go/sgbd/internal/hashindex"
	"github.com/sgbd-go/sgbd/internal/page/fixedpage"
	"github.com/sgbd-go/sgbd/internal/page/slottedpage"
	"github.com/sgbd-go/sgbd/internal/record"
	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// Op is a scan/delete/modify comparison operator.
type Op string

const (
	Eq Op = "=="
	Ne Op = "!="
	Lt Op = "<"
	Le Op = "<="
	Gt Op = ">"
	Ge Op = ">="
)

// Ref locates one record: the block it lives in and its slot/offset within
// that block's page.
type Ref struct {
	Block int
	Slot  int
}

// Engine is the process-wide orchestrator. The zero value is not usable;
// construct with Open.
type Engine struct {
	dev     *device.Device
	bitmap  *bitmap.Allocator
	pool    *buffer.Pool
	catalog *catalog.Catalog
	indices map[string]*hashindex.Index // relation name -> index

	logger *log.Logger
}

// Open wires an already opened device (fresh or existing disk root) into a
// ready-to-use engine: creates the buffer pool, loads (or initializes) the
// bitmap and catalog, and loads every relation's hash index.
func Open(dev *device.Device, frameCount int, policy buffer.Policy, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}

	pool, err := buffer.New(dev, frameCount, policy)
	if err != nil {
		return nil, err
	}

	alloc := bitmap.New(dev.TotalBlocks(), dev.Geometry().BlockSize)
	healthy, err := alloc.Load(dev)
	if err != nil {
		return nil, err
	}
	if !healthy {
		alloc.InitReserved()
	}

	cat := catalog.New(dev.Geometry().BlockSize)
	if err := cat.Load(dev); err != nil {
		return nil, err
	}

	e := &Engine{
		dev:     dev,
		bitmap:  alloc,
		pool:    pool,
		catalog: cat,
		indices: make(map[string]*hashindex.Index),
		logger:  logger,
	}

	cat.Iterate(func(r *catalog.Relation) {
		if r.HashIndexBlock < 0 {
			return
		}
		idx, err := hashindex.Open(dev, alloc, r.HashIndexBlock)
		if err != nil {
			logger.Printf("engine: relation %q: hash index load failed, running without index acceleration: %v", r.Name, err)
			return
		}
		e.indices[r.Name] = idx
	})

	return e, nil
}

// Close flushes every dirty frame, then persists the catalog and bitmap
// (spec.md §5 "Write-back").
func (e *Engine) Close() error {
	if err := e.pool.FlushAll(); err != nil {
		return err
	}
	if err := e.catalog.Save(e.dev); err != nil {
		return err
	}
	if err := e.bitmap.Save(e.dev); err != nil {
		return err
	}
	return nil
}

// CreateRelation drops any existing relation of the same name, allocates
// one data block, and - for fixed relations - a hash index over field 0.
func (e *Engine) CreateRelation(name string, isFixed bool, fields []catalog.Field) error {
	if e.catalog.Has(name) {
		if err := e.DropRelation(name); err != nil {
			return err
		}
	}

	dataBlock, err := e.allocBlock()
	if err != nil {
		return err
	}
	if err := e.initDataBlock(dataBlock, isFixed, fields); err != nil {
		return err
	}

	r := &catalog.Relation{
		Name:            name,
		IsFixed:         isFixed,
		Fields:          fields,
		Blocks:          []int{dataBlock},
		HashIndexBlock:  -1,
		BtreeIndexBlock: -1,
	}

	if isFixed {
		keySize := fields[0].Size
		blockSize := e.dev.Geometry().BlockSize
		bucketCapacity := (blockSize - 8) / (keySize + 8)
		idx, err := hashindex.Create(e.dev, e.bitmap, keySize, bucketCapacity)
		if err != nil {
			return err
		}
		e.indices[name] = idx
		r.HashIndexBlock = idx.HeaderBlock()
	}

	if err := e.catalog.Add(r); err != nil {
		return err
	}
	return e.persist()
}

func (e *Engine) initDataBlock(blockID int, isFixed bool, fields []catalog.Field) error {
	buf, err := e.pool.GetBlock(blockID)
	if err != nil {
		return err
	}
	if isFixed {
		if _, err := fixedpage.Init(buf, recordSize(fields)); err != nil {
			return err
		}
	} else {
		slottedpage.Init(buf)
	}
	return e.pool.MarkDirty(blockID)
}

func recordSize(fields []catalog.Field) int {
	total := 0
	for _, f := range fields {
		total += f.Size
	}
	return total
}

// DropRelation releases every data block and, if present, every hash
// index block, then removes the catalog entry.
func (e *Engine) DropRelation(name string) error {
	r, err := e.catalog.Get(name)
	if err != nil {
		return err
	}

	for _, b := range r.Blocks {
		if err := e.bitmap.Set(b, false); err != nil {
			return err
		}
	}

	if idx, ok := e.indices[name]; ok {
		for _, b := range idx.Blocks() {
			if err := e.bitmap.Set(b, false); err != nil {
				return err
			}
		}
		delete(e.indices, name)
	}

	if err := e.catalog.Remove(name); err != nil {
		return err
	}
	return e.persist()
}

func (e *Engine) persist() error {
	if err := e.catalog.Save(e.dev); err != nil {
		return err
	}
	return e.bitmap.Save(e.dev)
}

func (e *Engine) allocBlock() (int, error) {
	b := e.bitmap.FirstFree()
	if b == -1 {
		return 0, fmt.Errorf("%w: no free blocks", sgerrors.ErrOutOfSpace)
	}
	if err := e.bitmap.Set(b, true); err != nil {
		return 0, err
	}
	return b, nil
}

// Insert encodes values per the relation's schema and inserts into the
// relation's last block, falling through the remaining blocks, then
// allocating a new one if none has room.
func (e *Engine) Insert(relName string, values []string, truncateOK bool) (Ref, error) {
	r, err := e.catalog.Get(relName)
	if err != nil {
		return Ref{}, err
	}

	var payload []byte
	if r.IsFixed {
		payload, err = record.EncodeFixed(r.Fields, values, truncateOK)
	} else {
		payload, err = record.EncodeVariable(values)
	}
	if err != nil {
		return Ref{}, err
	}

	ref, err := e.insertIntoRelation(r, payload)
	if err != nil {
		return Ref{}, err
	}

	if r.IsFixed && len(r.Fields) > 0 {
		if idx, ok := e.indices[relName]; ok {
			key := []byte(values[0])
			idx.BindAllocator(e.bitmap)
			if err := idx.Insert(key, ref.Block, ref.Slot); err != nil {
				return ref, err
			}
		}
	}

	return ref, e.persist()
}

// insertIntoRelation tries the relation's last block first, then the
// remaining blocks in order, then allocates a new block (spec.md §4.8).
func (e *Engine) insertIntoRelation(r *catalog.Relation, payload []byte) (Ref, error) {
	if n := len(r.Blocks); n > 0 {
		last := r.Blocks[n-1]
		if ref, ok, err := e.tryInsertBlock(last, r.IsFixed, payload); err != nil {
			return Ref{}, err
		} else if ok {
			return ref, nil
		}

		for _, b := range r.Blocks[:n-1] {
			if ref, ok, err := e.tryInsertBlock(b, r.IsFixed, payload); err != nil {
				return Ref{}, err
			} else if ok {
				return ref, nil
			}
		}
	}

	newBlock, err := e.allocBlock()
	if err != nil {
		return Ref{}, err
	}
	if err := e.initDataBlock(newBlock, r.IsFixed, r.Fields); err != nil {
		return Ref{}, err
	}
	r.Blocks = append(r.Blocks, newBlock)

	ref, ok, err := e.tryInsertBlock(newBlock, r.IsFixed, payload)
	if err != nil {
		return Ref{}, err
	}
	if !ok {
		return Ref{}, fmt.Errorf("%w: record does not fit even in a freshly allocated block", sgerrors.ErrOutOfSpace)
	}
	return ref, nil
}

func (e *Engine) tryInsertBlock(blockID int, isFixed bool, payload []byte) (Ref, bool, error) {
	if err := e.pool.Pin(blockID); err != nil {
		return Ref{}, false, err
	}
	defer e.mustUnpin(blockID)

	buf, err := e.pool.GetBlock(blockID)
	if err != nil {
		return Ref{}, false, err
	}

	var slot int
	if isFixed {
		slot, err = fixedpage.Wrap(buf).Insert(payload)
	} else {
		slot, err = slottedpage.Wrap(buf).Insert(payload)
	}
	if err != nil {
		if errors.Is(err, sgerrors.ErrOutOfSpace) {
			return Ref{}, false, nil
		}
		return Ref{}, false, err
	}

	if err := e.pool.MarkDirty(blockID); err != nil {
		return Ref{}, false, err
	}
	return Ref{Block: blockID, Slot: slot}, true, nil
}

// --- predicate evaluation, scan/delete/modify ---

func compare(op Op, cmp int) bool {
	switch op {
	case Eq:
		return cmp == 0
	case Ne:
		return cmp != 0
	case Lt:
		return cmp < 0
	case Le:
		return cmp <= 0
	case Gt:
		return cmp > 0
	case Ge:
		return cmp >= 0
	default:
		return false
	}
}

// matches evaluates the predicate for one field's raw string value,
// per spec.md §4.8's per-type comparison rules.
func matches(fieldType catalog.FieldType, actual string, op Op, want string) bool {
	switch fieldType {
	case catalog.Int:
		a, errA := strconv.ParseInt(actual, 10, 64)
		b, errB := strconv.ParseInt(want, 10, 64)
		if errA != nil || errB != nil {
			return false
		}
		switch {
		case a < b:
			return compare(op, -1)
		case a > b:
			return compare(op, 1)
		default:
			return compare(op, 0)
		}
	case catalog.Float:
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(want, 64)
		if errA != nil || errB != nil {
			return false
		}
		switch {
		case a < b:
			return compare(op, -1)
		case a > b:
			return compare(op, 1)
		default:
			return compare(op, 0)
		}
	default: // catalog.String
		switch {
		case actual < want:
			return compare(op, -1)
		case actual > want:
			return compare(op, 1)
		default:
			return compare(op, 0)
		}
	}
}

// matchRow holds one matched record's decoded field values alongside its
// location, for callers that need both (delete/modify).
type matchRow struct {
	ref    Ref
	values []string
}

// evalRelation walks every block of r, decoding each live record and
// testing the predicate, unless the index-accelerated path applies
// (fixed relation, predicate on the primary key, op == "==").
func (e *Engine) evalRelation(r *catalog.Relation, field string, op Op, value string) ([]matchRow, error) {
	fieldIdx := r.FieldIndex(field)
	if fieldIdx == -1 {
		return nil, fmt.Errorf("%w: field %q on relation %q", sgerrors.ErrNotFound, field, r.Name)
	}

	if r.IsFixed && fieldIdx == 0 && op == Eq {
		if idx, ok := e.indices[r.Name]; ok {
			return e.evalViaIndex(r, idx, value)
		}
	}

	var out []matchRow
	for _, b := range r.Blocks {
		rows, err := e.evalBlock(r, b, fieldIdx, op, value)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (e *Engine) evalViaIndex(r *catalog.Relation, idx *hashindex.Index, value string) ([]matchRow, error) {
	entries := idx.Search([]byte(value))
	var out []matchRow
	for _, en := range entries {
		values, err := e.decodeAt(r, en.BlockID, en.Offset)
		if err != nil {
			if errors.Is(err, sgerrors.ErrInvalidPage) {
				continue
			}
			return nil, err
		}
		out = append(out, matchRow{ref: Ref{Block: en.BlockID, Slot: en.Offset}, values: values})
	}
	return out, nil
}

func (e *Engine) evalBlock(r *catalog.Relation, blockID, fieldIdx int, op Op, value string) ([]matchRow, error) {
	if err := e.pool.Pin(blockID); err != nil {
		return nil, err
	}
	defer e.mustUnpin(blockID)

	buf, err := e.pool.GetBlock(blockID)
	if err != nil {
		return nil, err
	}

	var slots []int
	if r.IsFixed {
		slots = fixedpage.Wrap(buf).Scan()
	} else {
		slots = slottedpage.Wrap(buf).Scan()
	}

	var out []matchRow
	for _, slot := range slots {
		values, err := e.decodeSlot(r, buf, slot)
		if err != nil {
			e.logger.Printf("engine: block %d slot %d: %v", blockID, slot, err)
			continue
		}
		if matches(r.Fields[fieldIdx].Type, values[fieldIdx], op, value) {
			out = append(out, matchRow{ref: Ref{Block: blockID, Slot: slot}, values: values})
		}
	}
	return out, nil
}

func (e *Engine) decodeSlot(r *catalog.Relation, buf []byte, slot int) ([]string, error) {
	if r.IsFixed {
		raw, err := fixedpage.Wrap(buf).Record(slot)
		if err != nil {
			return nil, err
		}
		fields, err := record.DecodeFixed(r.Fields, raw)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(fields))
		for i, f := range fields {
			out[i] = strings.TrimRight(string(f), " ")
		}
		return out, nil
	}

	raw, err := slottedpage.Wrap(buf).Record(slot)
	if err != nil {
		return nil, err
	}
	return record.DecodeVariable(raw, len(r.Fields))
}

func (e *Engine) decodeAt(r *catalog.Relation, blockID, slot int) ([]string, error) {
	buf, err := e.pool.GetBlock(blockID)
	if err != nil {
		return nil, err
	}
	if err := e.pool.Pin(blockID); err != nil {
		return nil, err
	}
	defer e.mustUnpin(blockID)

	return e.decodeSlot(r, buf, slot)
}

// ScanWhere evaluates the predicate over relation relName and creates (or
// replaces) outputRel with every matching row, in the same schema.
func (e *Engine) ScanWhere(relName, field string, op Op, value, outputRel string) ([][]string, error) {
	r, err := e.catalog.Get(relName)
	if err != nil {
		return nil, err
	}

	rows, err := e.evalRelation(r, field, op, value)
	if err != nil {
		return nil, err
	}

	if e.catalog.Has(outputRel) {
		if err := e.DropRelation(outputRel); err != nil {
			return nil, err
		}
	}
	if err := e.CreateRelation(outputRel, r.IsFixed, r.Fields); err != nil {
		return nil, err
	}

	results := make([][]string, 0, len(rows))
	for _, row := range rows {
		if _, err := e.Insert(outputRel, row.values, true); err != nil {
			return nil, err
		}
		results = append(results, row.values)
	}

	return results, nil
}

// DeleteWhere evaluates the predicate and deletes every matching record,
// compacting each touched slotted page once at the end (spec.md §4.8).
func (e *Engine) DeleteWhere(relName, field string, op Op, value string) (int, error) {
	r, err := e.catalog.Get(relName)
	if err != nil {
		return 0, err
	}

	rows, err := e.evalRelation(r, field, op, value)
	if err != nil {
		return 0, err
	}

	idx := e.indices[relName]
	touched := map[int]bool{}

	for _, row := range rows {
		if err := e.deleteOne(r, row.ref); err != nil {
			return 0, err
		}
		touched[row.ref.Block] = true
		if r.IsFixed && idx != nil {
			if err := idx.Remove([]byte(row.values[0]), row.ref.Block, row.ref.Slot); err != nil {
				return 0, err
			}
		}
	}

	if !r.IsFixed {
		for b := range touched {
			if err := e.compactBlock(b); err != nil {
				return 0, err
			}
		}
	}

	return len(rows), e.persist()
}

func (e *Engine) deleteOne(r *catalog.Relation, ref Ref) error {
	if err := e.pool.Pin(ref.Block); err != nil {
		return err
	}
	defer e.mustUnpin(ref.Block)

	buf, err := e.pool.GetBlock(ref.Block)
	if err != nil {
		return err
	}

	if r.IsFixed {
		if err := fixedpage.Wrap(buf).Delete(ref.Slot); err != nil {
			return err
		}
	} else {
		if err := slottedpage.Wrap(buf).Delete(ref.Slot); err != nil {
			return err
		}
	}
	return e.pool.MarkDirty(ref.Block)
}

func (e *Engine) compactBlock(blockID int) error {
	if err := e.pool.Pin(blockID); err != nil {
		return err
	}
	defer e.mustUnpin(blockID)

	buf, err := e.pool.GetBlock(blockID)
	if err != nil {
		return err
	}
	slottedpage.Wrap(buf).Compact()
	return e.pool.MarkDirty(blockID)
}

// Modify finds every record matching (matchField, matchValue) and rewrites
// its fields per newValues (same schema order). For fixed relations this
// is in-place; for variable relations, tombstone-and-reinsert followed by
// a single compaction pass per touched page.
func (e *Engine) Modify(relName, matchField string, matchOp Op, matchValue string, newValues []string) (int, error) {
	r, err := e.catalog.Get(relName)
	if err != nil {
		return 0, err
	}

	rows, err := e.evalRelation(r, matchField, matchOp, matchValue)
	if err != nil {
		return 0, err
	}

	idx := e.indices[relName]
	touched := map[int]bool{}

	for _, row := range rows {
		oldKey := ""
		if r.IsFixed && len(r.Fields) > 0 {
			oldKey = row.values[0]
		}

		var newRef Ref
		if r.IsFixed {
			newRef, err = e.rewriteInPlace(r, row.ref, newValues)
		} else {
			if err = e.deleteOne(r, row.ref); err == nil {
				newRef, err = e.Insert(relName, newValues, false)
			}
		}
		if err != nil {
			return 0, err
		}
		touched[row.ref.Block] = true

		if r.IsFixed && idx != nil && (oldKey != newValues[0] || row.ref != newRef) {
			if err := idx.Remove([]byte(oldKey), row.ref.Block, row.ref.Slot); err != nil {
				return 0, err
			}
			if err := idx.Insert([]byte(newValues[0]), newRef.Block, newRef.Slot); err != nil {
				return 0, err
			}
		}
	}

	if !r.IsFixed {
		for b := range touched {
			if err := e.compactBlock(b); err != nil {
				return 0, err
			}
		}
	}

	return len(rows), e.persist()
}

// rewriteInPlace overwrites a fixed-relation record at ref.Slot with
// newValues encoded to the same record width, without touching the
// free-list chain.
func (e *Engine) rewriteInPlace(r *catalog.Relation, ref Ref, newValues []string) (Ref, error) {
	payload, err := record.EncodeFixed(r.Fields, newValues, false)
	if err != nil {
		return Ref{}, err
	}

	if err := e.pool.Pin(ref.Block); err != nil {
		return Ref{}, err
	}
	defer e.mustUnpin(ref.Block)

	buf, err := e.pool.GetBlock(ref.Block)
	if err != nil {
		return Ref{}, err
	}

	page := fixedpage.Wrap(buf)
	raw, err := page.Record(ref.Slot)
	if err != nil {
		return Ref{}, err
	}
	copy(raw, payload)

	if err := e.pool.MarkDirty(ref.Block); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func (e *Engine) mustUnpin(blockID int) {
	if err := e.pool.Unpin(blockID); err != nil {
		e.logger.Printf("engine: unpin block %d: %v", blockID, err)
	}
}

// Relation returns the catalog entry for name, for shell inspection
// commands (schema, rel_block_info).
func (e *Engine) Relation(name string) (*catalog.Relation, error) {
	return e.catalog.Get(name)
}

// BufferStatuses returns a diagnostic snapshot of every buffer frame, for
// the shell's buffer_status command.
func (e *Engine) BufferStatuses() []buffer.Status {
	return e.pool.Statuses()
}

// PinBlock and UnpinBlock expose the buffer pool's pin discipline directly
// to the shell's pin/unpin commands (spec.md §6).
func (e *Engine) PinBlock(blockID int) error {
	return e.pool.Pin(blockID)
}

func (e *Engine) UnpinBlock(blockID int) error {
	return e.pool.Unpin(blockID)
}

// RequestBlock fetches a block into the buffer pool without pinning it,
// for the shell's request command.
func (e *Engine) RequestBlock(blockID int) ([]byte, error) {
	return e.pool.GetBlock(blockID)
}

// MarkBlockDirty marks a resident frame dirty, for the shell's dirty
// command.
func (e *Engine) MarkBlockDirty(blockID int) error {
	return e.pool.MarkDirty(blockID)
}
