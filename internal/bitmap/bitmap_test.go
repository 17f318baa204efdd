package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/bitmap"
)

type memDevice struct {
	blocks map[int][]byte
	size   int
}

func newMemDevice(size int) *memDevice {
	return &memDevice{blocks: make(map[int][]byte), size: size}
}

func (m *memDevice) ReadBlock(idx int) ([]byte, error) {
	if b, ok := m.blocks[idx]; ok {
		return b, nil
	}
	return make([]byte, m.size), nil
}

func (m *memDevice) WriteBlock(idx int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blocks[idx] = cp
	return nil
}

func Test_Allocator_Load_Reports_Uninitialized_On_Empty_Block(t *testing.T) {
	dev := newMemDevice(64)
	a := bitmap.New(32, 64)

	healthy, err := a.Load(dev)
	require.NoError(t, err)
	require.False(t, healthy)
}

func Test_Allocator_FirstFree_Skips_Reserved_Blocks(t *testing.T) {
	a := bitmap.New(10, 64)
	a.InitReserved()

	require.Equal(t, 2, a.FirstFree())
}

func Test_Allocator_Set_And_Save_Roundtrip(t *testing.T) {
	dev := newMemDevice(64)
	a := bitmap.New(16, 64)
	a.InitReserved()

	require.NoError(t, a.Set(2, true))
	require.NoError(t, a.Set(5, true))
	require.NoError(t, a.Save(dev))

	b := bitmap.New(16, 64)
	healthy, err := b.Load(dev)
	require.NoError(t, err)
	require.True(t, healthy)

	for _, i := range []int{0, 1, 2, 5} {
		v, err := b.Get(i)
		require.NoError(t, err)
		require.True(t, v, "block %d should be allocated", i)
	}

	v, err := b.Get(3)
	require.NoError(t, err)
	require.False(t, v)

	require.Equal(t, 3, b.FirstFree())
}

func Test_Allocator_Set_Out_Of_Bounds_Errors(t *testing.T) {
	a := bitmap.New(4, 64)
	require.Error(t, a.Set(-1, true))
	require.Error(t, a.Set(4, true))
}

func Test_Allocator_FirstFree_Returns_Minus_One_When_Full(t *testing.T) {
	a := bitmap.New(2, 64)
	a.InitReserved()
	require.Equal(t, -1, a.FirstFree())
}
