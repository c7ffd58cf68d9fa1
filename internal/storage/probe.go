package storage

import (
	"bytes"
	"fmt"
)

// probeFile is the scratch file Probe writes under the backend root.
const probeFile = ".write-probe"

// Probe verifies that the backend is fully writable: it writes a probe
// file, reads it back, appends to it (when the backend supports
// append), re-reads it and deletes it. A nil return means the backend
// can safely be used as the archive's native strategy.
func Probe(b Backend) error {
	first := []byte("probe-1\n")
	second := []byte("probe-2\n")

	if err := b.WriteFile(probeFile, first); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	defer func() {
		_ = b.Delete(probeFile)
	}()

	got, err := b.ReadFile(probeFile)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if !bytes.Equal(got, first) {
		return fmt.Errorf("probe read back %d bytes, want %d", len(got), len(first))
	}

	if b.CanAppend() {
		if err := b.AppendFile(probeFile, second); err != nil {
			return fmt.Errorf("probe append: %w", err)
		}
		got, err = b.ReadFile(probeFile)
		if err != nil {
			return fmt.Errorf("probe re-read: %w", err)
		}
		want := append(append([]byte(nil), first...), second...)
		if !bytes.Equal(got, want) {
			return fmt.Errorf("probe append mismatch: got %d bytes, want %d", len(got), len(want))
		}
	}
	return nil
}
