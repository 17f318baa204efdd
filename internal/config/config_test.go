package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/config"
	"github.com/sgbd-go/sgbd/internal/device"
)

func Test_Load_Uses_Defaults_When_No_File_Or_Overrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir, config.Options{})
	require.NoError(t, err)

	want := config.Default()
	want.DataDir = dir
	require.Equal(t, want, cfg)
}

func Test_Load_Merges_Hujson_File_Over_Defaults(t *testing.T) {
	dir := t.TempDir()
	hujson := `{
		// trailing comma and comments are fine in hujson
		"frame_count": 128,
		"replacement_policy": "clock",
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(hujson), 0o644))

	cfg, err := config.Load(dir, config.Options{})
	require.NoError(t, err)

	require.Equal(t, 128, cfg.FrameCount)
	require.Equal(t, "clock", cfg.ReplacementPolicy)
	require.Equal(t, config.Default().Geometry, cfg.Geometry)
}

func Test_Load_Overrides_Take_Precedence_Over_File(t *testing.T) {
	dir := t.TempDir()
	hujson := `{"frame_count": 128}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(hujson), 0o644))

	cfg, err := config.Load(dir, config.Options{FrameCount: 256})
	require.NoError(t, err)

	require.Equal(t, 256, cfg.FrameCount)
}

func Test_Load_Rejects_Invalid_Replacement_Policy(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(dir, config.Options{ReplacementPolicy: "random"})
	require.Error(t, err)
}

func Test_Load_Rejects_Nonpositive_Frame_Count(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(dir, config.Options{FrameCount: -1})
	require.Error(t, err)
}

func Test_Load_Rejects_Malformed_Hujson(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("not json at all {{{"), 0o644))

	_, err := config.Load(dir, config.Options{})
	require.Error(t, err)
}

func Test_Load_Override_Geometry_Replaces_Whole_Struct(t *testing.T) {
	dir := t.TempDir()
	overrideGeometry := device.Geometry{
		Platters:         1,
		TracksPerSurface: 1,
		SectorsPerTrack:  1,
		BlockSize:        64,
		BlocksPerSector:  1,
	}
	cfg, err := config.Load(dir, config.Options{Geometry: overrideGeometry})
	require.NoError(t, err)
	require.Equal(t, overrideGeometry, cfg.Geometry)
}
