package sgfs

import (
	"bytes"
	"fmt"

	natomic "github.com/natefinch/atomic"
)

// WriteFileAtomic writes data to path via a temp-file-then-rename so a crash
// mid-write never leaves a partially written file at path.
//
// Used for disk.cfg, where a half-written file would be silently misparsed
// (or rejected) on the next startup. Block
// writes to the simulated device go through [FS.OpenFile] directly instead -
// they're fixed-size regions inside long-lived sector files, not whole-file
// replacements, so atomic rename doesn't apply to them.
func WriteFileAtomic(path string, data []byte) error {
	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	return nil
}
