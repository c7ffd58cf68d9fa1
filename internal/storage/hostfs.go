package storage

import (
	"io/fs"
	"path"

	"github.com/msghub/msghub/internal/homeio"
)

// HostFS is a Backend on the host's logical file namespace. The host
// file API has no append primitive, so CanAppend is false and the
// archive falls back to read-modify-write.
type HostFS struct {
	files  homeio.Files
	metaID string
	base   string
}

// NewHostFS creates a HostFS backend under metaID/base in the host
// file namespace.
func NewHostFS(files homeio.Files, metaID, base string) *HostFS {
	return &HostFS{files: files, metaID: metaID, base: base}
}

func (h *HostFS) resolve(p string) string {
	return path.Join(h.base, p)
}

func (h *HostFS) ReadFile(p string) ([]byte, error) {
	return h.files.Read(h.metaID, h.resolve(p))
}

func (h *HostFS) WriteFile(p string, data []byte) error {
	return h.files.Write(h.metaID, h.resolve(p), data)
}

func (h *HostFS) AppendFile(p string, data []byte) error {
	return &fs.PathError{Op: "append", Path: p, Err: fs.ErrInvalid}
}

func (h *HostFS) CanAppend() bool { return false }

func (h *HostFS) Rename(oldPath, newPath string) error {
	return h.files.Rename(h.metaID, h.resolve(oldPath), h.resolve(newPath))
}

func (h *HostFS) CanRename() bool { return true }

func (h *HostFS) Delete(p string) error {
	return h.files.Delete(h.metaID, h.resolve(p))
}

func (h *HostFS) Exists(p string) (bool, error) {
	_, err := h.files.Stat(h.metaID, h.resolve(p))
	if err == nil {
		return true, nil
	}
	if IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (h *HostFS) MkdirAll(p string) error {
	return h.files.Mkdir(h.metaID, h.resolve(p))
}

func (h *HostFS) ReadDir(p string) ([]Entry, error) {
	entries, err := h.files.ReadDir(h.metaID, h.resolve(p))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Name: e.Name, Size: e.Size, IsDir: e.IsDir})
	}
	return out, nil
}

func (h *HostFS) Size(p string) (int64, error) {
	info, err := h.files.Stat(h.metaID, h.resolve(p))
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}
