package device

import (
	"fmt"
)

// surfacesPerPlatter is fixed by the geometry model (spec.md §3): every
// platter has exactly two recording surfaces.
const surfacesPerPlatter = 2

// Geometry describes the simulated disk's physical layout. It is the
// external, user-facing configuration (spec.md §6 disk.cfg / external
// config) as well as the configuration persisted inside the disk root.
type Geometry struct {
	Platters         int
	TracksPerSurface int
	SectorsPerTrack  int
	BlockSize        int
	BlocksPerSector  int
}

// Validate rejects a geometry that could not produce a usable device.
func (g Geometry) Validate() error {
	if g.Platters <= 0 || g.TracksPerSurface <= 0 || g.SectorsPerTrack <= 0 ||
		g.BlockSize <= 0 || g.BlocksPerSector <= 0 {
		return fmt.Errorf("geometry: all fields must be positive, got %+v", g)
	}
	return nil
}

// TotalBlocks returns platters × 2 × tracks × sectors × blocks_per_sector.
func (g Geometry) TotalBlocks() int {
	return g.Platters * surfacesPerPlatter * g.TracksPerSurface * g.SectorsPerTrack * g.BlocksPerSector
}

// blocksPerTrack, blocksPerSurface, and blocksPerPlatter are the
// intermediate strides used by the lexicographic block→physical mapping.
func (g Geometry) blocksPerTrack() int    { return g.SectorsPerTrack * g.BlocksPerSector }
func (g Geometry) blocksPerSurface() int  { return g.blocksPerTrack() * g.TracksPerSurface }
func (g Geometry) blocksPerPlatter() int  { return g.blocksPerSurface() * surfacesPerPlatter }
func (g Geometry) sectorFileSize() int    { return g.BlocksPerSector * g.BlockSize }

// Equal reports whether two geometries describe the same physical layout.
// Used to detect configuration drift between the external config and the
// one persisted at the disk root (spec.md §3: "mismatch triggers full
// re-creation").
func (g Geometry) Equal(other Geometry) bool {
	return g == other
}

// Position identifies a block's physical coordinates.
type Position struct {
	Platter int
	Surface int
	Track   int
	Sector  int
	Inner   int // block-within-sector index
}

// positionOf resolves a linear block index to its physical coordinates via
// lexicographic division over (platter, surface, track, sector, inner),
// grounded on original_source/disk.cpp's sectorStartOfBlock (adapted from
// sectors-per-block to spec.md's blocks-per-sector redesign).
func (g Geometry) positionOf(blockIdx int) Position {
	bpTrack := g.blocksPerTrack()
	bpSurface := g.blocksPerSurface()
	bpPlatter := g.blocksPerPlatter()

	platter := blockIdx / bpPlatter
	blockIdx %= bpPlatter

	surface := blockIdx / bpSurface
	blockIdx %= bpSurface

	track := blockIdx / bpTrack
	blockIdx %= bpTrack

	sector := blockIdx / g.BlocksPerSector
	inner := blockIdx % g.BlocksPerSector

	return Position{Platter: platter, Surface: surface, Track: track, Sector: sector, Inner: inner}
}
