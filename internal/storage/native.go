package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Native is a Backend on the local filesystem under a root directory.
// It supports both append and atomic rename.
type Native struct {
	root string
}

// NewNative creates a Native backend rooted at root. The directory is
// created on first write, not here.
func NewNative(root string) *Native {
	return &Native{root: root}
}

// Root returns the backend's root directory.
func (n *Native) Root() string { return n.root }

func (n *Native) resolve(path string) string {
	return filepath.Join(n.root, filepath.FromSlash(path))
}

func (n *Native) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(n.resolve(path))
}

func (n *Native) WriteFile(path string, data []byte) error {
	p := n.resolve(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (n *Native) AppendFile(path string, data []byte) error {
	p := n.resolve(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func (n *Native) CanAppend() bool { return true }

func (n *Native) Rename(oldPath, newPath string) error {
	dst := n.resolve(newPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(n.resolve(oldPath), dst)
}

func (n *Native) CanRename() bool { return true }

func (n *Native) Delete(path string) error {
	return os.Remove(n.resolve(path))
}

func (n *Native) Exists(path string) (bool, error) {
	_, err := os.Stat(n.resolve(path))
	if err == nil {
		return true, nil
	}
	if IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (n *Native) MkdirAll(path string) error {
	return os.MkdirAll(n.resolve(path), 0o755)
}

func (n *Native) ReadDir(path string) ([]Entry, error) {
	entries, err := os.ReadDir(n.resolve(path))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		ent := Entry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			ent.Size = info.Size()
		}
		out = append(out, ent)
	}
	return out, nil
}

func (n *Native) Size(path string) (int64, error) {
	info, err := os.Stat(n.resolve(path))
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, &fs.PathError{Op: "size", Path: path, Err: fs.ErrInvalid}
	}
	return info.Size(), nil
}
