// Package device simulates a rotating-disk substrate: a block-addressable
// device that maps linear block numbers onto a (platter, surface, track,
// sector) directory hierarchy of flat files (spec.md §4.1).
package device

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
	"github.com/sgbd-go/sgbd/pkg/sgfs"
)

// Device is the simulated disk. Block 0 and block 1 are reserved for the
// Catalog and the BitmapAllocator respectively (spec.md §3) but Device
// itself has no opinion about that - it just maps block indices to bytes.
type Device struct {
	fs       sgfs.FS
	root     string
	geometry Geometry
}

// Open prepares the device at root for the given geometry.
//
// If the root is missing, incomplete, or its persisted geometry differs
// from want, the root is destroyed and fully rebuilt (spec.md §3: "mismatch
// triggers full re-creation (destructive)").
func Open(fsys sgfs.FS, root string, want Geometry) (*Device, error) {
	if err := want.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", sgerrors.ErrConfig, err)
	}

	d := &Device{fs: fsys, root: root, geometry: want}

	internalPath := filepath.Join(root, internalConfigName)
	persisted, exists, err := loadConfig(fsys, internalPath)
	if err != nil {
		return nil, err
	}

	complete := exists && d.directoryIsComplete()
	needsRebuild := !exists || !persisted.Equal(want) || !complete

	if needsRebuild {
		if err := d.rebuild(); err != nil {
			return nil, err
		}
		return d, nil
	}

	return d, nil
}

// directoryIsComplete checks for a sample sector file, mirroring
// original_source/disk.cpp's directoryIsComplete: a cheap, not exhaustive,
// sanity check that the hierarchy exists.
func (d *Device) directoryIsComplete() bool {
	sample := d.sectorPath(Position{})
	exists, err := d.fs.Exists(sample)
	return err == nil && exists
}

// rebuild destroys and recreates the on-disk directory hierarchy and
// zero-fills every sector file, then persists the geometry. Destructive:
// any existing data under root is discarded.
func (d *Device) rebuild() error {
	if err := d.fs.RemoveAll(d.root); err != nil {
		return fmt.Errorf("%w: removing stale root %s: %v", sgerrors.ErrIO, d.root, err)
	}

	if err := d.fs.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("%w: creating root %s: %v", sgerrors.ErrIO, d.root, err)
	}

	g := d.geometry
	zeroSector := make([]byte, g.sectorFileSize())

	for platter := 0; platter < g.Platters; platter++ {
		for surface := 0; surface < surfacesPerPlatter; surface++ {
			for track := 0; track < g.TracksPerSurface; track++ {
				trackDir := filepath.Join(
					d.root,
					fmt.Sprintf("plato%d", platter),
					fmt.Sprintf("superficie%d", surface),
					fmt.Sprintf("pista%d", track),
				)
				if err := d.fs.MkdirAll(trackDir, 0o755); err != nil {
					return fmt.Errorf("%w: creating %s: %v", sgerrors.ErrIO, trackDir, err)
				}

				for sector := 0; sector < g.SectorsPerTrack; sector++ {
					sectorPath := filepath.Join(trackDir, fmt.Sprintf("sector%d", sector))
					if err := d.fs.WriteFile(sectorPath, zeroSector, 0o644); err != nil {
						return fmt.Errorf("%w: creating %s: %v", sgerrors.ErrIO, sectorPath, err)
					}
				}
			}
		}
	}

	if err := saveConfig(filepath.Join(d.root, internalConfigName), g); err != nil {
		return err
	}

	return nil
}

// sectorPath returns the path to the sector file holding pos.
func (d *Device) sectorPath(pos Position) string {
	return filepath.Join(
		d.root,
		fmt.Sprintf("plato%d", pos.Platter),
		fmt.Sprintf("superficie%d", pos.Surface),
		fmt.Sprintf("pista%d", pos.Track),
		fmt.Sprintf("sector%d", pos.Sector),
	)
}

// PositionOf returns the physical coordinates of blockIdx, for diagnostics
// (the shell's block_info / print_block commands).
func (d *Device) PositionOf(blockIdx int) Position {
	return d.geometry.positionOf(blockIdx)
}

// Geometry returns the device's active geometry.
func (d *Device) Geometry() Geometry { return d.geometry }

// TotalBlocks returns the device's total addressable block count.
func (d *Device) TotalBlocks() int { return d.geometry.TotalBlocks() }

// ReadBlock reads exactly block_size bytes from blockIdx.
func (d *Device) ReadBlock(blockIdx int) ([]byte, error) {
	if blockIdx < 0 || blockIdx >= d.geometry.TotalBlocks() {
		return nil, fmt.Errorf("%w: block %d out of range [0,%d)", sgerrors.ErrOutOfBounds, blockIdx, d.geometry.TotalBlocks())
	}

	pos := d.geometry.positionOf(blockIdx)
	path := d.sectorPath(pos)

	f, err := d.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sector %s: %v", sgerrors.ErrIO, path, err)
	}
	defer f.Close()

	buf := make([]byte, d.geometry.BlockSize)
	offset := int64(pos.Inner) * int64(d.geometry.BlockSize)
	n, err := f.Seek(offset, 0)
	if err != nil || n != offset {
		return nil, fmt.Errorf("%w: seeking sector %s to %d: %v", sgerrors.ErrIO, path, offset, err)
	}

	if _, err := readFull(f, buf); err != nil {
		return nil, fmt.Errorf("%w: reading block %d from %s: %v", sgerrors.ErrIO, blockIdx, path, err)
	}

	return buf, nil
}

// WriteBlock writes data to blockIdx. Fails if len(data) != block_size.
func (d *Device) WriteBlock(blockIdx int, data []byte) error {
	if blockIdx < 0 || blockIdx >= d.geometry.TotalBlocks() {
		return fmt.Errorf("%w: block %d out of range [0,%d)", sgerrors.ErrOutOfBounds, blockIdx, d.geometry.TotalBlocks())
	}
	if len(data) != d.geometry.BlockSize {
		return fmt.Errorf("%w: block %d: got %d bytes, want %d", sgerrors.ErrIO, blockIdx, len(data), d.geometry.BlockSize)
	}

	pos := d.geometry.positionOf(blockIdx)
	path := d.sectorPath(pos)

	f, err := d.fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: opening sector %s: %v", sgerrors.ErrIO, path, err)
	}
	defer f.Close()

	offset := int64(pos.Inner) * int64(d.geometry.BlockSize)
	n, err := f.Seek(offset, 0)
	if err != nil || n != offset {
		return fmt.Errorf("%w: seeking sector %s to %d: %v", sgerrors.ErrIO, path, offset, err)
	}

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: writing block %d to %s: %v", sgerrors.ErrIO, blockIdx, path, err)
	}

	return nil
}

// readFull reads exactly len(buf) bytes, treating a short read as an error
// (spec.md §4.1: "short read...fails; fatal").
func readFull(f sgfs.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("short read: got %d of %d bytes", total, len(buf))
		}
	}
	return total, nil
}
