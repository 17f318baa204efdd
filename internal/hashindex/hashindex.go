// Package hashindex implements an extendible hash index over a
// fixed-width primary-key prefix: a directory that doubles on overflow,
// and buckets with a local depth redistributed by low-bit partitioning of
// the key hash (spec.md §4.7).
package hashindex

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maxLocalDepthBitsPerByte times key_size bounds how far a bucket's local
// depth can grow before split gives up and reports the index as degenerate
// (spec.md §9 Open Question (c)): beyond 8*key_size bits the directory has
// already grown to cover the entire hash space addressable by the key
// width, so further splitting cannot make progress on keys that hash
// identically. A directory that no longer fits in the header block fails
// Save with ErrOutOfSpace, which can happen before this bound is reached.
const maxLocalDepthBitsPerByte = 8

// Entry is one (key, block, offset) triple stored in a bucket.
type Entry struct {
	Key     []byte
	BlockID int
	Offset  int
}

type bucket struct {
	block      int
	localDepth int
	entries    []Entry
}

// Device is the subset of device.Device the index reads/writes through
// directly, bypassing the buffer pool (spec.md §4.7 "Persistence").
type Device interface {
	ReadBlock(idx int) ([]byte, error)
	WriteBlock(idx int, data []byte) error
	TotalBlocks() int
}

// Allocator is the subset of bitmap.Allocator the index needs to grab
// blocks for its header and buckets.
type Allocator interface {
	FirstFree() int
	Set(i int, v bool) error
}

// Index is one relation's extendible hash index, held in memory and
// persisted on demand.
type Index struct {
	dev Device

	headerBlock    int
	globalDepth    int
	keySize        int
	bucketCapacity int
	directory      []int // dir index -> bucket block id
	buckets        map[int]*bucket

	// pendingAlloc is the bitmap allocator used to grab new blocks during
	// a split triggered by Insert.
	pendingAlloc Allocator
}

// Create allocates a header block and two initial buckets, persists them,
// and returns the new index.
func Create(dev Device, alloc Allocator, keySize, bucketCapacity int) (*Index, error) {
	headerBlock, err := allocBlock(alloc)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		dev:            dev,
		headerBlock:    headerBlock,
		globalDepth:    1,
		keySize:        keySize,
		bucketCapacity: bucketCapacity,
		directory:      make([]int, 2),
		buckets:        make(map[int]*bucket, 2),
		pendingAlloc:   alloc,
	}

	for i := 0; i < 2; i++ {
		blockID, err := allocBlock(alloc)
		if err != nil {
			return nil, err
		}
		idx.directory[i] = blockID
		idx.buckets[blockID] = &bucket{block: blockID, localDepth: 1}
	}

	if err := idx.Save(); err != nil {
		return nil, err
	}
	return idx, nil
}

func allocBlock(alloc Allocator) (int, error) {
	b := alloc.FirstFree()
	if b == -1 {
		return 0, fmt.Errorf("%w: no free blocks for hash index", sgerrors.ErrOutOfSpace)
	}
	if err := alloc.Set(b, true); err != nil {
		return 0, err
	}
	return b, nil
}

// HeaderBlock returns the index's root block, for the catalog's
// hash_index_block pointer.
func (idx *Index) HeaderBlock() int { return idx.headerBlock }

// Blocks returns the header block plus every unique bucket block,
// for relation teardown (spec.md §4.8 drop_relation).
func (idx *Index) Blocks() []int {
	out := []int{idx.headerBlock}
	seen := map[int]bool{}
	for _, b := range idx.directory {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

func hashKey(key []byte) uint32 {
	h := fnv.New32a()
	h.Write(key)
	return h.Sum32()
}

// padKey right-pads key with ASCII spaces, or truncates it, to key_size
// bytes.
func (idx *Index) padKey(key []byte) []byte {
	out := make([]byte, idx.keySize)
	for i := range out {
		out[i] = ' '
	}
	copy(out, key)
	return out
}

func (idx *Index) dirIndex(key []byte) int {
	h := hashKey(key)
	mask := uint32(1<<uint(idx.globalDepth)) - 1
	return int(h & mask)
}

// Insert records (key, blockID, offset), padding/truncating key to
// key_size first. Idempotent: an identical existing triple is a no-op.
func (idx *Index) Insert(key []byte, blockID, offset int) error {
	key = idx.padKey(key)
	return idx.insert(key, blockID, offset, 0)
}

func (idx *Index) insert(key []byte, blockID, offset, depth int) error {
	if depth > 8*idx.keySize*maxLocalDepthBitsPerByte {
		return fmt.Errorf("%w: hash index for key size %d cannot split further", sgerrors.ErrHashDegenerate, idx.keySize)
	}

	dirIdx := idx.dirIndex(key)
	b := idx.buckets[idx.directory[dirIdx]]

	for _, e := range b.entries {
		if bytesEqual(e.Key, key) && e.BlockID == blockID && e.Offset == offset {
			return nil
		}
	}

	if len(b.entries) < idx.bucketCapacity {
		b.entries = append(b.entries, Entry{Key: key, BlockID: blockID, Offset: offset})
		return idx.Save()
	}

	if err := idx.split(dirIdx); err != nil {
		return err
	}
	return idx.insert(key, blockID, offset, depth+1)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// split divides the bucket pointed to by directory[dirIdx], doubling the
// directory first if the bucket's local depth has caught up to the global
// depth (spec.md §4.7).
func (idx *Index) split(dirIdx int) error {
	oldBlock := idx.directory[dirIdx]
	old := idx.buckets[oldBlock]
	oldLocalDepth := old.localDepth

	if oldLocalDepth >= maxLocalDepthBitsPerByte*idx.keySize {
		return fmt.Errorf("%w: hash index for key size %d cannot split further", sgerrors.ErrHashDegenerate, idx.keySize)
	}

	if oldLocalDepth == idx.globalDepth {
		idx.globalDepth++
		idx.directory = append(idx.directory, idx.directory...)
	}

	newBlock, err := idx.allocBucketBlock()
	if err != nil {
		return err
	}
	newBucket := &bucket{block: newBlock, localDepth: oldLocalDepth + 1}
	old.localDepth = oldLocalDepth + 1

	oldEntries := old.entries
	old.entries = nil
	newLocalMask := uint32(1<<uint(old.localDepth)) - 1
	keepSuffix := uint32(dirIdx) & newLocalMask

	for _, e := range oldEntries {
		h := hashKey(e.Key)
		if h&newLocalMask == keepSuffix {
			old.entries = append(old.entries, e)
		} else {
			newBucket.entries = append(newBucket.entries, e)
		}
	}

	for i := range idx.directory {
		if idx.directory[i] != oldBlock {
			continue
		}
		if uint32(i)&newLocalMask == keepSuffix {
			idx.directory[i] = oldBlock
		} else {
			idx.directory[i] = newBlock
		}
	}

	idx.buckets[newBlock] = newBucket
	return idx.Save()
}

func (idx *Index) allocBucketBlock() (int, error) {
	if idx.pendingAlloc == nil {
		return 0, fmt.Errorf("%w: hash index has no allocator bound for split", sgerrors.ErrInvalidArgument)
	}
	return allocBlock(idx.pendingAlloc)
}

// Search returns every (block, offset) pair stored for key.
func (idx *Index) Search(key []byte) []Entry {
	key = idx.padKey(key)
	dirIdx := idx.dirIndex(key)
	b := idx.buckets[idx.directory[dirIdx]]

	var out []Entry
	for _, e := range b.entries {
		if bytesEqual(e.Key, key) {
			out = append(out, e)
		}
	}
	return out
}

// Remove deletes the matching (key, blockID, offset) triple, if present.
func (idx *Index) Remove(key []byte, blockID, offset int) error {
	key = idx.padKey(key)
	dirIdx := idx.dirIndex(key)
	b := idx.buckets[idx.directory[dirIdx]]

	kept := b.entries[:0]
	for _, e := range b.entries {
		if bytesEqual(e.Key, key) && e.BlockID == blockID && e.Offset == offset {
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	return idx.Save()
}

// --- persistence ---

const headerFixedSize = 12

func (idx *Index) encodeHeader() []byte {
	buf := make([]byte, headerFixedSize+4*len(idx.directory)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(idx.globalDepth))
	binary.BigEndian.PutUint32(buf[4:8], uint32(idx.keySize))
	binary.BigEndian.PutUint32(buf[8:12], uint32(idx.bucketCapacity))
	for i, b := range idx.directory {
		binary.BigEndian.PutUint32(buf[12+i*4:], uint32(b))
	}
	crcOff := headerFixedSize + 4*len(idx.directory)
	crc := crc32.Checksum(buf[:crcOff], castagnoli)
	binary.BigEndian.PutUint32(buf[crcOff:], crc)
	return buf
}

func decodeHeader(raw []byte) (globalDepth, keySize, bucketCapacity int, directory []int, err error) {
	if len(raw) < headerFixedSize {
		return 0, 0, 0, nil, fmt.Errorf("%w: hash index header truncated", sgerrors.ErrHashCorrupt)
	}
	globalDepth = int(binary.BigEndian.Uint32(raw[0:4]))
	keySize = int(binary.BigEndian.Uint32(raw[4:8]))
	bucketCapacity = int(binary.BigEndian.Uint32(raw[8:12]))

	dirSize := 1 << uint(globalDepth)
	crcOff := headerFixedSize + 4*dirSize
	if len(raw) < crcOff+4 {
		return 0, 0, 0, nil, fmt.Errorf("%w: hash index header too short for directory", sgerrors.ErrHashCorrupt)
	}

	wantCRC := crc32.Checksum(raw[:crcOff], castagnoli)
	gotCRC := binary.BigEndian.Uint32(raw[crcOff:])
	if wantCRC != gotCRC {
		return 0, 0, 0, nil, fmt.Errorf("%w: hash index header checksum mismatch", sgerrors.ErrHashCorrupt)
	}

	directory = make([]int, dirSize)
	for i := 0; i < dirSize; i++ {
		directory[i] = int(binary.BigEndian.Uint32(raw[headerFixedSize+i*4:]))
	}
	return globalDepth, keySize, bucketCapacity, directory, nil
}

const bucketFixedSize = 8

func (idx *Index) encodeBucket(b *bucket) []byte {
	entrySize := idx.keySize + 4 + 4
	buf := make([]byte, bucketFixedSize+entrySize*len(b.entries)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(b.localDepth))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(b.entries)))
	for i, e := range b.entries {
		off := bucketFixedSize + i*entrySize
		copy(buf[off:off+idx.keySize], e.Key)
		binary.BigEndian.PutUint32(buf[off+idx.keySize:], uint32(e.BlockID))
		binary.BigEndian.PutUint32(buf[off+idx.keySize+4:], uint32(e.Offset))
	}
	crcOff := bucketFixedSize + entrySize*len(b.entries)
	crc := crc32.Checksum(buf[:crcOff], castagnoli)
	binary.BigEndian.PutUint32(buf[crcOff:], crc)
	return buf
}

func decodeBucket(block int, raw []byte, keySize int) (*bucket, error) {
	if len(raw) < bucketFixedSize+4 {
		return nil, fmt.Errorf("%w: hash bucket %d truncated", sgerrors.ErrHashCorrupt, block)
	}
	localDepth := int(binary.BigEndian.Uint32(raw[0:4]))
	n := int(binary.BigEndian.Uint32(raw[4:8]))

	entrySize := keySize + 4 + 4
	crcOff := bucketFixedSize + entrySize*n
	if len(raw) < crcOff+4 {
		return nil, fmt.Errorf("%w: hash bucket %d too short for %d entries", sgerrors.ErrHashCorrupt, block, n)
	}

	wantCRC := crc32.Checksum(raw[:crcOff], castagnoli)
	gotCRC := binary.BigEndian.Uint32(raw[crcOff:])
	if wantCRC != gotCRC {
		return nil, fmt.Errorf("%w: hash bucket %d checksum mismatch", sgerrors.ErrHashCorrupt, block)
	}

	b := &bucket{block: block, localDepth: localDepth}
	for i := 0; i < n; i++ {
		off := bucketFixedSize + i*entrySize
		key := make([]byte, keySize)
		copy(key, raw[off:off+keySize])
		b.entries = append(b.entries, Entry{
			Key:     key,
			BlockID: int(binary.BigEndian.Uint32(raw[off+keySize:])),
			Offset:  int(binary.BigEndian.Uint32(raw[off+keySize+4:])),
		})
	}
	return b, nil
}

// Save writes the header and every resident bucket back through the
// device directly, zero-padded to block size (spec.md §4.7 Persistence).
func (idx *Index) Save() error {
	header := idx.encodeHeader()
	if err := idx.writeBlockPadded(idx.headerBlock, header); err != nil {
		return err
	}
	for block, b := range idx.buckets {
		if err := idx.writeBlockPadded(block, idx.encodeBucket(b)); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) writeBlockPadded(block int, data []byte) error {
	blockSize := len(data)
	if existing, err := idx.dev.ReadBlock(block); err == nil {
		blockSize = len(existing)
	}
	if len(data) > blockSize {
		return fmt.Errorf("%w: hash index block %d payload %d exceeds block size %d", sgerrors.ErrOutOfSpace, block, len(data), blockSize)
	}
	buf := make([]byte, blockSize)
	copy(buf, data)
	return idx.dev.WriteBlock(block, buf)
}

// Open loads an index whose header lives at headerBlock, reading every
// unique bucket referenced by its directory.
func Open(dev Device, alloc Allocator, headerBlock int) (*Index, error) {
	raw, err := dev.ReadBlock(headerBlock)
	if err != nil {
		return nil, fmt.Errorf("loading hash index header: %w", err)
	}

	globalDepth, keySize, bucketCapacity, directory, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		dev:            dev,
		headerBlock:    headerBlock,
		globalDepth:    globalDepth,
		keySize:        keySize,
		bucketCapacity: bucketCapacity,
		directory:      directory,
		buckets:        make(map[int]*bucket),
		pendingAlloc:   alloc,
	}

	for _, block := range directory {
		if _, ok := idx.buckets[block]; ok {
			continue
		}
		bucketRaw, err := dev.ReadBlock(block)
		if err != nil {
			return nil, fmt.Errorf("loading hash bucket %d: %w", block, err)
		}
		b, err := decodeBucket(block, bucketRaw, keySize)
		if err != nil {
			return nil, err
		}
		idx.buckets[block] = b
	}

	return idx, nil
}

// BindAllocator attaches the bitmap allocator the index needs in order to
// grab new blocks during a future split. Create already binds one
// implicitly; Open requires this to be called (or passed directly) before
// Insert can trigger a split.
func (idx *Index) BindAllocator(alloc Allocator) { idx.pendingAlloc = alloc }
