package device_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/device"
	"github.com/sgbd-go/sgbd/pkg/sgfs"
)

func testGeometry() device.Geometry {
	return device.Geometry{
		Platters:         1,
		TracksPerSurface: 2,
		SectorsPerTrack:  2,
		BlockSize:        32,
		BlocksPerSector:  2,
	}
}

func Test_Open_Creates_Fresh_Root_When_Missing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "root")
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)
	require.Equal(t, 1*2*2*2*2, dev.TotalBlocks())
}

func Test_WriteBlock_Then_ReadBlock_Roundtrips(t *testing.T) {
	dir := t.TempDir()
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)

	payload := make([]byte, 32)
	copy(payload, []byte("hello-device-block-contents!!!!"))

	require.NoError(t, dev.WriteBlock(3, payload))
	got, err := dev.ReadBlock(3)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func Test_ReadBlock_Out_Of_Range_Errors(t *testing.T) {
	dir := t.TempDir()
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)

	_, err = dev.ReadBlock(dev.TotalBlocks())
	require.Error(t, err)

	_, err = dev.ReadBlock(-1)
	require.Error(t, err)
}

func Test_WriteBlock_Rejects_Wrong_Size_Payload(t *testing.T) {
	dir := t.TempDir()
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)

	err = dev.WriteBlock(0, make([]byte, 10))
	require.Error(t, err)
}

func Test_Open_Rebuilds_Root_When_Geometry_Changes(t *testing.T) {
	dir := t.TempDir()
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)

	payload := make([]byte, 32)
	copy(payload, []byte("will-be-wiped-by-rebuild!!!!!!!"))
	require.NoError(t, dev.WriteBlock(0, payload))

	bigger := testGeometry()
	bigger.TracksPerSurface = 4

	dev2, err := device.Open(sgfs.NewReal(), dir, bigger)
	require.NoError(t, err)

	got, err := dev2.ReadBlock(0)
	require.NoError(t, err)
	require.NotEqual(t, payload, got, "rebuild on geometry mismatch should discard prior contents")
}

func Test_Open_Rejects_Invalid_Geometry(t *testing.T) {
	dir := t.TempDir()
	bad := testGeometry()
	bad.BlockSize = 0

	_, err := device.Open(sgfs.NewReal(), dir, bad)
	require.Error(t, err)
}

func Test_PositionOf_Maps_Distinct_Blocks_To_Distinct_Positions(t *testing.T) {
	dir := t.TempDir()
	dev, err := device.Open(sgfs.NewReal(), dir, testGeometry())
	require.NoError(t, err)

	seen := make(map[device.Position]bool)
	for i := 0; i < dev.TotalBlocks(); i++ {
		pos := dev.PositionOf(i)
		require.False(t, seen[pos], "position %+v reused by block %d", pos, i)
		seen[pos] = true
	}
}
