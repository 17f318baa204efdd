package catalog_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/catalog"
)

const blockSize = 512

type memDevice struct {
	blocks map[int][]byte
}

func newMemDevice() *memDevice {
	return &memDevice{blocks: make(map[int][]byte)}
}

func (m *memDevice) ReadBlock(idx int) ([]byte, error) {
	if b, ok := m.blocks[idx]; ok {
		return b, nil
	}
	return make([]byte, blockSize), nil
}

func (m *memDevice) WriteBlock(idx int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blocks[idx] = cp
	return nil
}

func Test_Catalog_Add_Get_Remove(t *testing.T) {
	c := catalog.New(blockSize)

	r := &catalog.Relation{
		Name:            "students",
		IsFixed:         true,
		Fields:          []catalog.Field{{Name: "id", Type: catalog.Int, Size: 4}},
		Blocks:          []int{2},
		HashIndexBlock:  -1,
		BtreeIndexBlock: -1,
	}
	require.NoError(t, c.Add(r))
	require.True(t, c.Has("students"))

	got, err := c.Get("students")
	require.NoError(t, err)
	require.Same(t, r, got)

	require.NoError(t, c.Remove("students"))
	require.False(t, c.Has("students"))
}

func Test_Catalog_Add_Duplicate_Errors(t *testing.T) {
	c := catalog.New(blockSize)
	r := &catalog.Relation{Name: "x", HashIndexBlock: -1, BtreeIndexBlock: -1}
	require.NoError(t, c.Add(r))
	require.Error(t, c.Add(r))
}

func Test_Catalog_Get_Unknown_Errors(t *testing.T) {
	c := catalog.New(blockSize)
	_, err := c.Get("nope")
	require.Error(t, err)
}

func Test_Catalog_Iterate_Preserves_Insertion_Order(t *testing.T) {
	c := catalog.New(blockSize)
	names := []string{"c", "a", "b"}
	for _, n := range names {
		require.NoError(t, c.Add(&catalog.Relation{Name: n, HashIndexBlock: -1, BtreeIndexBlock: -1}))
	}

	var seen []string
	c.Iterate(func(r *catalog.Relation) { seen = append(seen, r.Name) })
	require.Equal(t, names, seen)
}

func Test_Catalog_Save_Then_Load_Roundtrips_Relations(t *testing.T) {
	c := catalog.New(blockSize)

	fixed := &catalog.Relation{
		Name:    "students",
		IsFixed: true,
		Fields: []catalog.Field{
			{Name: "id", Type: catalog.Int, Size: 4},
			{Name: "name", Type: catalog.String, Size: 20},
		},
		Blocks:          []int{2, 3},
		HashIndexBlock:  7,
		BtreeIndexBlock: -1,
	}
	variable := &catalog.Relation{
		Name:    "notes",
		IsFixed: false,
		Fields: []catalog.Field{
			{Name: "text", Type: catalog.String, Size: -1},
		},
		Blocks:          []int{4},
		HashIndexBlock:  -1,
		BtreeIndexBlock: -1,
	}
	require.NoError(t, c.Add(fixed))
	require.NoError(t, c.Add(variable))

	dev := newMemDevice()
	require.NoError(t, c.Save(dev))

	loaded := catalog.New(blockSize)
	require.NoError(t, loaded.Load(dev))

	got, err := loaded.Get("students")
	require.NoError(t, err)
	if diff := cmp.Diff(fixed.Fields, got.Fields); diff != "" {
		t.Fatalf("fields mismatch after roundtrip (-want +got):\n%s", diff)
	}
	require.Equal(t, fixed.Blocks, got.Blocks)
	require.Equal(t, 7, got.HashIndexBlock)
	require.True(t, got.IsFixed)

	got2, err := loaded.Get("notes")
	require.NoError(t, err)
	require.False(t, got2.IsFixed)
	require.Equal(t, -1, got2.Fields[0].Size)
	require.Equal(t, -1, got2.HashIndexBlock)
}

func Test_Catalog_Load_On_Empty_Block_Yields_Empty_Catalog(t *testing.T) {
	c := catalog.New(blockSize)
	require.NoError(t, c.Load(newMemDevice()))

	var count int
	c.Iterate(func(*catalog.Relation) { count++ })
	require.Zero(t, count)
}

func Test_Catalog_Save_Rejects_Text_Exceeding_Block_Size(t *testing.T) {
	c := catalog.New(8) // tiny block
	require.NoError(t, c.Add(&catalog.Relation{
		Name:            "this_name_is_long_enough_to_overflow",
		Fields:          []catalog.Field{{Name: "id", Type: catalog.Int, Size: 4}},
		HashIndexBlock:  -1,
		BtreeIndexBlock: -1,
	}))

	err := c.Save(newMemDevice())
	require.Error(t, err)
}

func Test_Relation_RecordSize_Sums_Field_Widths(t *testing.T) {
	r := &catalog.Relation{
		Fields: []catalog.Field{
			{Name: "id", Type: catalog.Int, Size: 4},
			{Name: "name", Type: catalog.String, Size: 20},
		},
	}
	require.Equal(t, 24, r.RecordSize())
}

func Test_Relation_FieldIndex(t *testing.T) {
	r := &catalog.Relation{
		Fields: []catalog.Field{
			{Name: "id", Type: catalog.Int, Size: 4},
			{Name: "name", Type: catalog.String, Size: 20},
		},
	}
	require.Equal(t, 1, r.FieldIndex("name"))
	require.Equal(t, -1, r.FieldIndex("missing"))
}
