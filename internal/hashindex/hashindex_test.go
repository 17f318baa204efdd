package hashindex_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/hashindex"
	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

const blockSize = 256

type memDevice struct {
	blocks map[int][]byte
}

func newMemDevice() *memDevice {
	return &memDevice{blocks: make(map[int][]byte)}
}

func (m *memDevice) ReadBlock(idx int) ([]byte, error) {
	if b, ok := m.blocks[idx]; ok {
		cp := make([]byte, len(b))
		copy(cp, b)
		return cp, nil
	}
	return make([]byte, blockSize), nil
}

func (m *memDevice) WriteBlock(idx int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blocks[idx] = cp
	return nil
}

func (m *memDevice) TotalBlocks() int { return 64 }

type memAllocator struct {
	used map[int]bool
	next int
}

func newMemAllocator() *memAllocator {
	return &memAllocator{used: make(map[int]bool)}
}

func (a *memAllocator) FirstFree() int {
	for i := a.next; i < 64; i++ {
		if !a.used[i] {
			return i
		}
	}
	return -1
}

func (a *memAllocator) Set(i int, v bool) error {
	a.used[i] = v
	return nil
}

func Test_Create_Allocates_Header_And_Two_Buckets(t *testing.T) {
	dev := newMemDevice()
	alloc := newMemAllocator()

	idx, err := hashindex.Create(dev, alloc, 4, 2)
	require.NoError(t, err)
	require.Len(t, idx.Blocks(), 3) // header + 2 buckets
}

func Test_Insert_Then_Search_Finds_Exact_Key(t *testing.T) {
	dev := newMemDevice()
	alloc := newMemAllocator()
	idx, err := hashindex.Create(dev, alloc, 4, 4)
	require.NoError(t, err)

	require.NoError(t, idx.Insert([]byte("k1"), 10, 0))
	require.NoError(t, idx.Insert([]byte("k2"), 10, 1))

	got := idx.Search([]byte("k1"))
	require.Len(t, got, 1)
	require.Equal(t, 10, got[0].BlockID)
	require.Equal(t, 0, got[0].Offset)

	require.Empty(t, idx.Search([]byte("missing")))
}

func Test_Insert_Is_Idempotent_On_Exact_Triple(t *testing.T) {
	dev := newMemDevice()
	alloc := newMemAllocator()
	idx, err := hashindex.Create(dev, alloc, 4, 4)
	require.NoError(t, err)

	require.NoError(t, idx.Insert([]byte("k1"), 10, 0))
	require.NoError(t, idx.Insert([]byte("k1"), 10, 0))

	require.Len(t, idx.Search([]byte("k1")), 1)
}

func Test_Insert_Past_Bucket_Capacity_Triggers_Split(t *testing.T) {
	dev := newMemDevice()
	alloc := newMemAllocator()
	idx, err := hashindex.Create(dev, alloc, 4, 1)
	require.NoError(t, err)

	keys := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	for i, k := range keys {
		require.NoError(t, idx.Insert([]byte(k), i, i))
	}

	for i, k := range keys {
		entries := idx.Search([]byte(k))
		require.Len(t, entries, 1, "key %q should still be found after splits", k)
		require.Equal(t, i, entries[0].BlockID)
	}

	require.Greater(t, len(idx.Blocks()), 3, "splitting should have allocated extra bucket blocks")
}

func Test_Remove_Deletes_Matching_Triple_Only(t *testing.T) {
	dev := newMemDevice()
	alloc := newMemAllocator()
	idx, err := hashindex.Create(dev, alloc, 4, 4)
	require.NoError(t, err)

	require.NoError(t, idx.Insert([]byte("k1"), 10, 0))
	require.NoError(t, idx.Insert([]byte("k1"), 11, 2))

	require.NoError(t, idx.Remove([]byte("k1"), 10, 0))

	got := idx.Search([]byte("k1"))
	require.Len(t, got, 1)
	require.Equal(t, 11, got[0].BlockID)
}

func Test_Save_Then_Open_Roundtrips_Entries(t *testing.T) {
	dev := newMemDevice()
	alloc := newMemAllocator()
	idx, err := hashindex.Create(dev, alloc, 4, 2)
	require.NoError(t, err)

	keys := []string{"a", "bb", "ccc", "dddd"}
	for i, k := range keys {
		require.NoError(t, idx.Insert([]byte(k), i, i))
	}

	reopened, err := hashindex.Open(dev, alloc, idx.HeaderBlock())
	require.NoError(t, err)

	for i, k := range keys {
		entries := reopened.Search([]byte(k))
		require.Len(t, entries, 1)
		require.Equal(t, i, entries[0].BlockID)
	}
}

func Test_Open_Rejects_Corrupted_Header_Checksum(t *testing.T) {
	dev := newMemDevice()
	alloc := newMemAllocator()
	idx, err := hashindex.Create(dev, alloc, 4, 2)
	require.NoError(t, err)

	raw, err := dev.ReadBlock(idx.HeaderBlock())
	require.NoError(t, err)
	raw[0] ^= 0xFF // flip a header byte without updating the trailing CRC
	require.NoError(t, dev.WriteBlock(idx.HeaderBlock(), raw))

	_, err = hashindex.Open(dev, alloc, idx.HeaderBlock())
	require.Error(t, err)
	require.True(t, errors.Is(err, sgerrors.ErrHashCorrupt))
}
