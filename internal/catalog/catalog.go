// Package catalog implements the relation directory persisted as
// line-oriented text in block 0 (spec.md §4.4).
package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// BlockIndex is the reserved device block that holds the catalog text.
const BlockIndex = 0

// FieldType is one of the three recognized column types.
type FieldType string

const (
	Int    FieldType = "int"
	Float  FieldType = "float"
	String FieldType = "string"
)

// Field is one column of a relation.
type Field struct {
	Name string
	Type FieldType
	// Size is the on-disk byte width for a fixed relation's field, or -1
	// for a variable relation's field (spec.md §9 Open Question (b)).
	Size int
}

// Relation is a named, ordered schema plus the data blocks and index roots
// that belong to it.
type Relation struct {
	Name    string
	IsFixed bool
	Fields  []Field
	Blocks  []int

	// HashIndexBlock is the root header block of this relation's hash
	// index, or -1 if absent.
	HashIndexBlock int
	// BtreeIndexBlock is always -1: the B-tree index is not implemented
	// (spec.md §1), the slot is reserved in the on-disk format only.
	BtreeIndexBlock int
}

// RecordSize returns the sum of field sizes for a fixed relation.
func (r *Relation) RecordSize() int {
	total := 0
	for _, f := range r.Fields {
		total += f.Size
	}
	return total
}

// FieldIndex returns the position of name in the schema, or -1.
func (r *Relation) FieldIndex(name string) int {
	for i, f := range r.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// blockReader/blockWriter mirror bitmap's narrow Device seam.
type blockReader interface {
	ReadBlock(idx int) ([]byte, error)
}

type blockWriter interface {
	WriteBlock(idx int, data []byte) error
}

// Catalog is the process-wide relation directory. Iteration order is
// insertion order: the original C++ backs this with an unordered_map and
// spec.md §4.4 calls that order implementation-defined, but a stable order
// makes shell output and tests reproducible, so it's supplied here as an
// enrichment over an unordered map plus an order slice.
type Catalog struct {
	byName map[string]*Relation
	order  []string
	blockSize int
}

// New creates an empty catalog sized for block writes of blockSize bytes.
func New(blockSize int) *Catalog {
	return &Catalog{
		byName:    make(map[string]*Relation),
		blockSize: blockSize,
	}
}

// Has reports whether name is a known relation.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Get returns the relation named name.
func (c *Catalog) Get(name string) (*Relation, error) {
	r, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: relation %q", sgerrors.ErrNotFound, name)
	}
	return r, nil
}

// Add inserts a new relation, rejecting duplicates.
func (c *Catalog) Add(r *Relation) error {
	if c.Has(r.Name) {
		return fmt.Errorf("%w: relation %q already exists", sgerrors.ErrInvalidArgument, r.Name)
	}
	c.byName[r.Name] = r
	c.order = append(c.order, r.Name)
	return nil
}

// Remove deletes a relation, erroring on an unknown name.
func (c *Catalog) Remove(name string) error {
	if !c.Has(name) {
		return fmt.Errorf("%w: relation %q", sgerrors.ErrNotFound, name)
	}
	delete(c.byName, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Iterate calls fn for every relation in insertion order.
func (c *Catalog) Iterate(fn func(*Relation)) {
	for _, name := range c.order {
		fn(c.byName[name])
	}
}

// Load reads block 0 and replaces the catalog's contents with the parsed
// stanzas. An empty or all-zero block yields an empty catalog.
func (c *Catalog) Load(dev blockReader) error {
	raw, err := dev.ReadBlock(BlockIndex)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	relations, err := parse(raw)
	if err != nil {
		return err
	}

	c.byName = make(map[string]*Relation, len(relations))
	c.order = c.order[:0]
	for _, r := range relations {
		c.byName[r.Name] = r
		c.order = append(c.order, r.Name)
	}
	return nil
}

// Save serializes every relation as a stanza, zero-pads to block size, and
// writes block 0.
func (c *Catalog) Save(dev blockWriter) error {
	var buf bytes.Buffer
	c.Iterate(func(r *Relation) {
		writeStanza(&buf, r)
	})

	if buf.Len() > c.blockSize {
		return fmt.Errorf("%w: catalog text %d bytes exceeds block size %d", sgerrors.ErrOutOfSpace, buf.Len(), c.blockSize)
	}

	block := make([]byte, c.blockSize)
	copy(block, buf.Bytes())

	if err := dev.WriteBlock(BlockIndex, block); err != nil {
		return fmt.Errorf("saving catalog: %w", err)
	}
	return nil
}

// writeStanza appends one relation's text form:
//
//	<name> (fix|var) <num_fields>
//	<field_name> <type> [<size>]
//	...
//	<block_id> <block_id> ...
//	<hash_index_block> <btree_index_block>
//
// The trailing index-pointer line is a SPEC_FULL addition (spec.md §9 Open
// Question (a)) so index roots survive a save/load round trip.
func writeStanza(buf *bytes.Buffer, r *Relation) {
	kind := "var"
	if r.IsFixed {
		kind = "fix"
	}
	fmt.Fprintf(buf, "%s %s %d\n", r.Name, kind, len(r.Fields))

	for _, f := range r.Fields {
		if r.IsFixed {
			fmt.Fprintf(buf, "%s %s %d\n", f.Name, f.Type, f.Size)
		} else {
			fmt.Fprintf(buf, "%s %s\n", f.Name, f.Type)
		}
	}

	blockStrs := make([]string, len(r.Blocks))
	for i, b := range r.Blocks {
		blockStrs[i] = strconv.Itoa(b)
	}
	fmt.Fprintf(buf, "%s\n", strings.Join(blockStrs, " "))

	fmt.Fprintf(buf, "%d %d\n", r.HashIndexBlock, r.BtreeIndexBlock)
}

// parse tokenizes the whitespace-delimited stanza format, skipping blank
// lines, per spec.md §4.4.
func parse(raw []byte) ([]*Relation, error) {
	scanner := bufio.NewScanner(bytes.NewReader(bytes.TrimRight(raw, "\x00")))
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	var relations []*Relation
	i := 0
	for i < len(lines) {
		header := strings.Fields(lines[i])
		if len(header) != 3 {
			return nil, fmt.Errorf("%w: catalog: malformed relation header %q", sgerrors.ErrConfig, lines[i])
		}
		i++

		r := &Relation{
			Name:            header[0],
			IsFixed:         header[1] == "fix",
			HashIndexBlock:  -1,
			BtreeIndexBlock: -1,
		}

		numFields, err := strconv.Atoi(header[2])
		if err != nil {
			return nil, fmt.Errorf("%w: catalog: invalid field count %q", sgerrors.ErrConfig, header[2])
		}

		for f := 0; f < numFields; f++ {
			if i >= len(lines) {
				return nil, fmt.Errorf("%w: catalog: truncated field list for %q", sgerrors.ErrConfig, r.Name)
			}
			parts := strings.Fields(lines[i])
			i++

			field := Field{Name: parts[0], Type: FieldType(parts[1]), Size: -1}
			if r.IsFixed {
				if len(parts) < 3 {
					return nil, fmt.Errorf("%w: catalog: fixed field %q missing size", sgerrors.ErrConfig, field.Name)
				}
				size, err := strconv.Atoi(parts[2])
				if err != nil {
					return nil, fmt.Errorf("%w: catalog: invalid field size %q", sgerrors.ErrConfig, parts[2])
				}
				field.Size = size
			}
			r.Fields = append(r.Fields, field)
		}

		if i >= len(lines) {
			return nil, fmt.Errorf("%w: catalog: missing block list for %q", sgerrors.ErrConfig, r.Name)
		}
		for _, tok := range strings.Fields(lines[i]) {
			b, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("%w: catalog: invalid block id %q", sgerrors.ErrConfig, tok)
			}
			r.Blocks = append(r.Blocks, b)
		}
		i++

		if i < len(lines) {
			idx := strings.Fields(lines[i])
			if len(idx) == 2 {
				hashBlock, err1 := strconv.Atoi(idx[0])
				btreeBlock, err2 := strconv.Atoi(idx[1])
				if err1 == nil && err2 == nil {
					r.HashIndexBlock = hashBlock
					r.BtreeIndexBlock = btreeBlock
					i++
				}
			}
		}

		relations = append(relations, r)
	}

	return relations, nil
}
