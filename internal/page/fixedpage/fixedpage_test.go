package fixedpage_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/page/fixedpage"
	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

const blockSize = 128
const recordSize = 16

func newPage(t *testing.T) *fixedpage.Page {
	t.Helper()
	buf := make([]byte, blockSize)
	p, err := fixedpage.Init(buf, recordSize)
	require.NoError(t, err)
	return p
}

func Test_Init_Computes_Capacity_From_Block_And_Record_Size(t *testing.T) {
	p := newPage(t)
	require.Equal(t, recordSize, p.RecordSize())
	require.Equal(t, (blockSize-16)/recordSize, p.Capacity())
	require.Equal(t, 0, p.ActiveRecords())
}

func Test_Insert_Then_Record_Roundtrips_Bytes(t *testing.T) {
	p := newPage(t)
	rec := make([]byte, recordSize)
	copy(rec, "hello world12345")

	slot, err := p.Insert(rec)
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	got, err := p.Record(slot)
	require.NoError(t, err)
	require.Equal(t, rec, got)
	require.Equal(t, 1, p.ActiveRecords())
}

func Test_Insert_Rejects_Wrong_Size_Record(t *testing.T) {
	p := newPage(t)
	_, err := p.Insert(make([]byte, recordSize+1))
	require.Error(t, err)
	require.True(t, errors.Is(err, sgerrors.ErrSchemaMismatch))
}

func Test_Insert_Returns_Out_Of_Space_When_Full(t *testing.T) {
	p := newPage(t)
	rec := make([]byte, recordSize)

	for i := 0; i < p.Capacity(); i++ {
		_, err := p.Insert(rec)
		require.NoError(t, err)
	}

	_, err := p.Insert(rec)
	require.Error(t, err)
	require.True(t, errors.Is(err, sgerrors.ErrOutOfSpace))
}

func Test_Delete_Frees_Slot_For_Reuse_Via_Free_Stack(t *testing.T) {
	p := newPage(t)
	rec := make([]byte, recordSize)

	a, err := p.Insert(rec)
	require.NoError(t, err)
	b, err := p.Insert(rec)
	require.NoError(t, err)

	require.NoError(t, p.Delete(a))
	require.Equal(t, 1, p.ActiveRecords())

	reused, err := p.Insert(rec)
	require.NoError(t, err)
	require.Equal(t, a, reused, "deleted slot should be reused before growing")

	_ = b
}

func Test_Delete_Unknown_Slot_Errors(t *testing.T) {
	p := newPage(t)
	require.Error(t, p.Delete(999))
}

func Test_Scan_Excludes_Deleted_Slots(t *testing.T) {
	p := newPage(t)
	rec := make([]byte, recordSize)

	slots := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		s, err := p.Insert(rec)
		require.NoError(t, err)
		slots = append(slots, s)
	}

	require.NoError(t, p.Delete(slots[1]))

	live := p.Scan()
	require.ElementsMatch(t, []int{slots[0], slots[2]}, live)
}
