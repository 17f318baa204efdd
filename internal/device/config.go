package device

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/sgbd-go/sgbd/pkg/sgerrors"
	"github.com/sgbd-go/sgbd/pkg/sgfs"
)

// internalConfigName is the geometry snapshot persisted inside the disk
// root (spec.md §6). It is distinct from the external config file supplied
// by the caller at startup, which is compared against this snapshot to
// detect drift.
const internalConfigName = "disk.cfg"

// loadConfig reads a key=value geometry file (spec.md §6). Returns
// (Geometry{}, false, nil) if the file does not exist.
func loadConfig(fsys sgfs.FS, path string) (Geometry, bool, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return Geometry{}, false, fmt.Errorf("%w: stat %s: %v", sgerrors.ErrConfig, path, err)
	}
	if !exists {
		return Geometry{}, false, nil
	}

	raw, err := fsys.ReadFile(path)
	if err != nil {
		return Geometry{}, false, fmt.Errorf("%w: reading %s: %v", sgerrors.ErrConfig, path, err)
	}

	g := Geometry{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		key, valueStr, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		value, err := strconv.Atoi(strings.TrimSpace(valueStr))
		if err != nil {
			return Geometry{}, false, fmt.Errorf("%w: %s: invalid integer %q", sgerrors.ErrConfig, path, valueStr)
		}

		switch strings.TrimSpace(key) {
		case "platos":
			g.Platters = value
		case "pistas":
			g.TracksPerSurface = value
		case "sectores":
			g.SectorsPerTrack = value
		case "block_size":
			g.BlockSize = value
		case "blocks_per_sector":
			g.BlocksPerSector = value
		}
	}

	return g, true, nil
}

// saveConfig persists the geometry snapshot atomically: a crash mid-write
// must never leave a disk.cfg that the next startup would misparse.
func saveConfig(path string, g Geometry) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "platos=%d\n", g.Platters)
	fmt.Fprintf(&buf, "pistas=%d\n", g.TracksPerSurface)
	fmt.Fprintf(&buf, "sectores=%d\n", g.SectorsPerTrack)
	fmt.Fprintf(&buf, "block_size=%d\n", g.BlockSize)
	fmt.Fprintf(&buf, "blocks_per_sector=%d\n", g.BlocksPerSector)

	if err := sgfs.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", sgerrors.ErrConfig, err)
	}
	return nil
}
