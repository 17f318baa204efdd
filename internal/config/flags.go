package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags adds the engine's CLI override flags to fs and returns an
// Options value that Load should merge in last (highest precedence).
// Flags left at their zero value are ignored by merge, so an unset flag
// never clobbers the file/default value. The geometry flags are the
// exception: merge replaces the geometry as a whole, so setting any one of
// them replaces all five, and the ones left unset become 0 (which Load then
// rejects as invalid).
func RegisterFlags(fs *pflag.FlagSet) *Options {
	overrides := &Options{}

	fs.StringVar(&overrides.DataDir, "data-dir", "", "engine data root directory")
	fs.IntVar(&overrides.FrameCount, "frames", 0, "buffer pool frame count")
	fs.StringVar(&overrides.ReplacementPolicy, "replacement", "", "buffer pool replacement policy: lru|clock")

	fs.IntVar(&overrides.Geometry.Platters, "platters", 0, "disk platter count")
	fs.IntVar(&overrides.Geometry.TracksPerSurface, "tracks", 0, "tracks per surface")
	fs.IntVar(&overrides.Geometry.SectorsPerTrack, "sectors", 0, "sectors per track")
	fs.IntVar(&overrides.Geometry.BlockSize, "block-size", 0, "block size in bytes")
	fs.IntVar(&overrides.Geometry.BlocksPerSector, "blocks-per-sector", 0, "blocks per sector")

	return overrides
}
