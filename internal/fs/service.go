package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/resource"
)

// Service implements the Filesystem Service (FS) ops: read/write/stat/
// directory/symlink/temp-file operations plus the watch resource family.
// Every path argument has already passed the Capability Policy's
// fs.read/fs.write glob check by the time it reaches Service — Service
// itself does not enforce policy.
type Service struct {
	table *resource.Table
}

// NewService builds a filesystem service backed by table (for watch
// resources).
func NewService(table *resource.Table) *Service {
	return &Service{table: table}
}

func mapOSErr(err error) *oprt.Error {
	switch {
	case os.IsNotExist(err):
		return oprt.New(oprt.ErrFSNotFound, err.Error())
	case os.IsPermission(err):
		return oprt.New(oprt.ErrFSPermissionDenied, err.Error())
	case os.IsExist(err):
		return oprt.New(oprt.ErrFSAlreadyExists, err.Error())
	default:
		return oprt.New(oprt.ErrFSIoError, err.Error())
	}
}

// ReadText implements fs.read_text(path) → string.
func (s *Service) ReadText(_ context.Context, path string) (string, *oprt.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", mapOSErr(err)
	}
	return string(data), nil
}

// WriteText implements fs.write_text(path, contents).
func (s *Service) WriteText(_ context.Context, path, contents string) *oprt.Error {
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return mapOSErr(err)
	}
	return nil
}

// ReadBytes implements fs.read_bytes(path) → bytes.
func (s *Service) ReadBytes(_ context.Context, path string) ([]byte, *oprt.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mapOSErr(err)
	}
	return data, nil
}

// WriteBytes implements fs.write_bytes(path, data).
func (s *Service) WriteBytes(_ context.Context, path string, data []byte) *oprt.Error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return mapOSErr(err)
	}
	return nil
}

func appendTo(path string, data []byte) *oprt.Error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return mapOSErr(err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return mapOSErr(err)
	}
	return nil
}

// AppendText implements fs.append_text(path, contents).
func (s *Service) AppendText(_ context.Context, path, contents string) *oprt.Error {
	return appendTo(path, []byte(contents))
}

// AppendBytes implements fs.append_bytes(path, data).
func (s *Service) AppendBytes(_ context.Context, path string, data []byte) *oprt.Error {
	return appendTo(path, data)
}

func statStruct(path string, info os.FileInfo) oprt.Struct {
	kind := "file"
	if info.IsDir() {
		kind = "dir"
	} else if info.Mode()&os.ModeSymlink != 0 {
		kind = "symlink"
	}
	return oprt.Struct{
		"path":     path,
		"kind":     kind,
		"size":     info.Size(),
		"modified": info.ModTime().UTC().Format(time.RFC3339Nano),
		"mode":     uint32(info.Mode().Perm()),
	}
}

// Stat implements fs.stat(path) → metadata, following symlinks.
func (s *Service) Stat(_ context.Context, path string) (oprt.Struct, *oprt.Error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, mapOSErr(err)
	}
	return statStruct(path, info), nil
}

// Metadata implements fs.metadata(path) → metadata, NOT following
// symlinks (so a symlink itself reports kind "symlink").
func (s *Service) Metadata(_ context.Context, path string) (oprt.Struct, *oprt.Error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, mapOSErr(err)
	}
	return statStruct(path, info), nil
}

// ReadDir implements fs.read_dir(path) → [entries].
func (s *Service) ReadDir(_ context.Context, path string) ([]oprt.Struct, *oprt.Error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, mapOSErr(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]oprt.Struct, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, statStruct(filepath.Join(path, e.Name()), info))
	}
	return out, nil
}

// Mkdir implements fs.mkdir(path, recursive?).
func (s *Service) Mkdir(_ context.Context, path string, recursive bool) *oprt.Error {
	var err error
	if recursive {
		err = os.MkdirAll(path, 0o755)
	} else {
		err = os.Mkdir(path, 0o755)
	}
	if err != nil {
		return mapOSErr(err)
	}
	return nil
}

// Remove implements fs.remove(path, recursive?).
func (s *Service) Remove(_ context.Context, path string, recursive bool) *oprt.Error {
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return mapOSErr(err)
	}
	return nil
}

// Rename implements fs.rename(from, to).
func (s *Service) Rename(_ context.Context, from, to string) *oprt.Error {
	if err := os.Rename(from, to); err != nil {
		return mapOSErr(err)
	}
	return nil
}

// Copy implements fs.copy(from, to).
func (s *Service) Copy(_ context.Context, from, to string) *oprt.Error {
	src, err := os.Open(from)
	if err != nil {
		return mapOSErr(err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return mapOSErr(err)
	}
	if info.IsDir() {
		return oprt.New(oprt.ErrFSIsDirectory, from+" is a directory")
	}

	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return mapOSErr(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return mapOSErr(err)
	}
	return nil
}

// Exists implements fs.exists(path) → bool.
func (s *Service) Exists(_ context.Context, path string) (bool, *oprt.Error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapOSErr(err)
}

// Symlink implements fs.symlink(target, linkPath).
func (s *Service) Symlink(_ context.Context, target, linkPath string) *oprt.Error {
	if err := os.Symlink(target, linkPath); err != nil {
		return oprt.New(oprt.ErrFSSymlinkError, err.Error())
	}
	return nil
}

// ReadLink implements fs.read_link(path) → string.
func (s *Service) ReadLink(_ context.Context, path string) (string, *oprt.Error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", oprt.New(oprt.ErrFSSymlinkError, err.Error())
	}
	return target, nil
}

// RealPath implements fs.real_path(path) → string: resolves symlinks and
// returns an absolute, cleaned path.
func (s *Service) RealPath(_ context.Context, path string) (string, *oprt.Error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", mapOSErr(err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", mapOSErr(err)
	}
	return abs, nil
}

// TempFile implements fs.temp_file(prefix?) → path, creating an empty
// file the guest owns and is responsible for removing.
func (s *Service) TempFile(_ context.Context, prefix string) (string, *oprt.Error) {
	f, err := os.CreateTemp("", prefix+"*")
	if err != nil {
		return "", oprt.New(oprt.ErrFSTempError, err.Error())
	}
	defer f.Close()
	return f.Name(), nil
}

// TempDir implements fs.temp_dir(prefix?) → path.
func (s *Service) TempDir(_ context.Context, prefix string) (string, *oprt.Error) {
	dir, err := os.MkdirTemp("", prefix+"*")
	if err != nil {
		return "", oprt.New(oprt.ErrFSTempError, err.Error())
	}
	return dir, nil
}

// Watch implements fs.watch(path) → rid.
func (s *Service) Watch(_ context.Context, path string) (oprt.RID, *oprt.Error) {
	w, err := NewWatcher(path)
	if err != nil {
		return 0, oprt.New(oprt.ErrFSWatchError, err.Error())
	}
	id := s.table.Insert(w)
	return oprt.RID(id), nil
}

// WatchNext implements fs.watch_next(rid) → {kind, paths[]}.
func (s *Service) WatchNext(ctx context.Context, rid oprt.RID) (oprt.Struct, *oprt.Error) {
	w, err := resource.Get[*Watcher](s.table, resource.ID(rid))
	if err != nil {
		return nil, oprt.New(oprt.ErrFSInvalidHandle, fmt.Sprintf("unknown watch handle: %v", err))
	}
	ev, werr, ok := w.Next(ctx)
	if werr != nil {
		return nil, oprt.New(oprt.ErrFSWatchError, werr.Error())
	}
	if !ok {
		return nil, oprt.New(oprt.ErrFSWatchError, "watcher closed")
	}
	return oprt.Struct{"kind": string(ev.Kind), "paths": ev.Paths}, nil
}

// WatchClose implements fs.watch_close(rid).
func (s *Service) WatchClose(_ context.Context, rid oprt.RID) *oprt.Error {
	if err := s.table.Drop(resource.ID(rid)); err != nil {
		return oprt.New(oprt.ErrFSInvalidHandle, fmt.Sprintf("unknown watch handle: %v", err))
	}
	return nil
}
