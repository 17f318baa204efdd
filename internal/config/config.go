// Package config loads engine-wide options (buffer pool sizing, replacement
// policy, data root, device geometry) from defaults, an optional
// sgbd.hujson file, and CLI overrides, grounded on the teacher's
// LoadConfig precedence chain (spec.md §6, SPEC_FULL §4.0).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/sgbd-go/sgbd/internal/device"
	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// FileName is the optional engine options file read from the data root.
const FileName = "sgbd.hujson"

// Options holds every runtime-tunable parameter the engine needs beyond
// the disk geometry persisted in disk.cfg.
type Options struct {
	DataDir         string          `json:"data_dir"`
	FrameCount      int             `json:"frame_count"`
	ReplacementPolicy string        `json:"replacement_policy"`
	Geometry        device.Geometry `json:"geometry"`
}

// Default returns the built-in baseline configuration.
func Default() Options {
	return Options{
		DataDir:           "./sgbd-data",
		FrameCount:        64,
		ReplacementPolicy: "lru",
		Geometry: device.Geometry{
			Platters:         2,
			TracksPerSurface: 4,
			SectorsPerTrack:  4,
			BlockSize:        512,
			BlocksPerSector:  4,
		},
	}
}

// Load applies, in increasing precedence: built-in defaults, an
// sgbd.hujson file in dataDir (if present), then overrides.
func Load(dataDir string, overrides Options) (Options, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	fileCfg, loaded, err := loadFile(filepath.Join(cfg.DataDir, FileName))
	if err != nil {
		return Options{}, err
	}
	if loaded {
		cfg = merge(cfg, fileCfg)
	}

	cfg = merge(cfg, overrides)

	if err := validate(cfg); err != nil {
		return Options{}, err
	}
	return cfg, nil
}

func loadFile(path string) (Options, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Options{}, false, nil
		}
		return Options{}, false, fmt.Errorf("%w: reading %s: %v", sgerrors.ErrConfig, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Options{}, false, fmt.Errorf("%w: %s is not valid JSONC: %v", sgerrors.ErrConfig, path, err)
	}

	var cfg Options
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Options{}, false, fmt.Errorf("%w: %s: %v", sgerrors.ErrConfig, path, err)
	}

	return cfg, true, nil
}

// merge overlays non-zero fields of overlay onto base.
func merge(base, overlay Options) Options {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.FrameCount != 0 {
		base.FrameCount = overlay.FrameCount
	}
	if overlay.ReplacementPolicy != "" {
		base.ReplacementPolicy = overlay.ReplacementPolicy
	}
	if (overlay.Geometry != device.Geometry{}) {
		base.Geometry = overlay.Geometry
	}
	return base
}

func validate(cfg Options) error {
	if cfg.FrameCount <= 0 {
		return fmt.Errorf("%w: frame_count must be positive, got %d", sgerrors.ErrConfig, cfg.FrameCount)
	}
	if cfg.ReplacementPolicy != "lru" && cfg.ReplacementPolicy != "clock" {
		return fmt.Errorf("%w: unknown replacement_policy %q", sgerrors.ErrConfig, cfg.ReplacementPolicy)
	}
	if err := cfg.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", sgerrors.ErrConfig, err)
	}
	return nil
}
