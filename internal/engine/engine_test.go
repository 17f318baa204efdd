package engine_test

import (
	"io"
	"log"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/buffer"
	"github.com/sgbd-go/sgbd/internal/catalog"
	"github.com/sgbd-go/sgbd/internal/device"
	"github.com/sgbd-go/sgbd/internal/engine"
	"github.com/sgbd-go/sgbd/pkg/sgfs"
)

func testGeometry() device.Geometry {
	return device.Geometry{
		Platters:         1,
		TracksPerSurface: 4,
		SectorsPerTrack:  4,
		BlockSize:        256,
		BlocksPerSector:  2,
	}
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)

	logger := log.New(io.Discard, "", 0)
	eng, err := engine.Open(dev, 8, buffer.LRU, logger)
	require.NoError(t, err)
	return eng
}

func studentFields() []catalog.Field {
	return []catalog.Field{
		{Name: "id", Type: catalog.Int, Size: 4},
		{Name: "name", Type: catalog.String, Size: 10},
	}
}

func Test_CreateRelation_Then_Insert_Then_ScanWhere_By_Primary_Key(t *testing.T) {
	eng := newTestEngine(t)

	require.NoError(t, eng.CreateRelation("students", true, studentFields()))

	_, err := eng.Insert("students", []string{"1", "ann"}, false)
	require.NoError(t, err)
	_, err = eng.Insert("students", []string{"2", "bob"}, false)
	require.NoError(t, err)

	rows, err := eng.ScanWhere("students", "id", engine.Eq, "2", "found")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"2", "bob"}}, rows)
}

func Test_DeleteWhere_Removes_Matching_Rows_And_Index_Entries(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.CreateRelation("students", true, studentFields()))

	_, err := eng.Insert("students", []string{"1", "ann"}, false)
	require.NoError(t, err)
	_, err = eng.Insert("students", []string{"2", "bob"}, false)
	require.NoError(t, err)

	n, err := eng.DeleteWhere("students", "id", engine.Eq, "1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows, err := eng.ScanWhere("students", "id", engine.Eq, "1", "found")
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = eng.ScanWhere("students", "id", engine.Eq, "2", "found2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func Test_Modify_Fixed_Relation_Rewrites_In_Place(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.CreateRelation("students", true, studentFields()))

	_, err := eng.Insert("students", []string{"1", "ann"}, false)
	require.NoError(t, err)

	n, err := eng.Modify("students", "id", engine.Eq, "1", []string{"1", "annette"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows, err := eng.ScanWhere("students", "id", engine.Eq, "1", "found")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1", "annette"}}, rows)
}

func Test_Insert_Falls_Through_To_New_Block_When_Full(t *testing.T) {
	eng := newTestEngine(t)
	fields := []catalog.Field{{Name: "id", Type: catalog.Int, Size: 4}}
	require.NoError(t, eng.CreateRelation("tiny", true, fields))

	// Block payload area is 256-16=240 bytes, record size 4 bytes -> 60
	// slots per block; insert enough rows to force a second block. Keys are
	// distinct so the primary-key hash index can split its buckets.
	for i := 0; i < 70; i++ {
		_, err := eng.Insert("tiny", []string{strconv.Itoa(i)}, false)
		require.NoError(t, err)
	}

	rel, err := eng.Relation("tiny")
	require.NoError(t, err)
	require.Greater(t, len(rel.Blocks), 1)
}

func Test_DropRelation_Removes_Catalog_Entry(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.CreateRelation("students", true, studentFields()))
	require.NoError(t, eng.DropRelation("students"))

	_, err := eng.Relation("students")
	require.Error(t, err)
}

func Test_Variable_Relation_Insert_And_Scan_By_Non_Key_Field(t *testing.T) {
	eng := newTestEngine(t)
	fields := []catalog.Field{
		{Name: "title", Type: catalog.String, Size: -1},
		{Name: "body", Type: catalog.String, Size: -1},
	}
	require.NoError(t, eng.CreateRelation("notes", false, fields))

	_, err := eng.Insert("notes", []string{"hello", "world"}, false)
	require.NoError(t, err)
	_, err = eng.Insert("notes", []string{"bye", "moon"}, false)
	require.NoError(t, err)

	rows, err := eng.ScanWhere("notes", "title", engine.Eq, "bye", "found")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"bye", "moon"}}, rows)
}

func Test_Close_Then_Reopen_Persists_Catalog_And_Data(t *testing.T) {
	dir := t.TempDir()
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)

	logger := log.New(io.Discard, "", 0)
	eng, err := engine.Open(dev, 8, buffer.LRU, logger)
	require.NoError(t, err)
	require.NoError(t, eng.CreateRelation("students", true, studentFields()))
	_, err = eng.Insert("students", []string{"1", "ann"}, false)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	dev2, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)
	eng2, err := engine.Open(dev2, 8, buffer.LRU, logger)
	require.NoError(t, err)

	rows, err := eng2.ScanWhere("students", "id", engine.Eq, "1", "found")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1", "ann"}}, rows)
}
