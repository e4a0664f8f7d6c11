package raftlog

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

// File is the subset of file operations the log performs on a segment file.
type File interface {
	Write(p []byte) (int, error)
	ReadAt(p []byte, off int64) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Truncate(size int64) error
	Sync() error
	Stat() (os.FileInfo, error)
	Close() error
}

// FileSystem is the only way the log touches storage.
// Paths are plain slash-or-OS separated names as produced by FileNames.
type FileSystem interface {
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error

	// Create creates a new file for reading and writing. It fails if the file exists.
	Create(name string) (File, error)

	// OpenAppend opens an existing file for reading and writing, positioned at its end.
	OpenAppend(name string) (File, error)

	// Open opens an existing file read-only.
	Open(name string) (File, error)

	// Remove deletes a file.
	Remove(name string) error

	// ReadDir lists the names of regular files in dir.
	ReadDir(dir string) ([]string, error)

	// SyncDir makes directory entry changes (create/remove) durable.
	SyncDir(dir string) error
}

// AferoFileSystem adapts an afero.Fs to FileSystem.
type AferoFileSystem struct {
	fs afero.Fs
}

// NewFileSystem returns a FileSystem backed by fs.
func NewFileSystem(fs afero.Fs) *AferoFileSystem {
	return &AferoFileSystem{fs: fs}
}

// OSFileSystem returns a FileSystem backed by the host operating system.
func OSFileSystem() *AferoFileSystem {
	return NewFileSystem(afero.NewOsFs())
}

// MkdirAll creates dir and any missing parents.
func (a *AferoFileSystem) MkdirAll(dir string) error {
	return a.fs.MkdirAll(dir, 0o750)
}

// Create creates a new file; it fails if the file already exists.
func (a *AferoFileSystem) Create(name string) (File, error) {
	f, err := a.fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenAppend opens an existing file for writing at its end.
func (a *AferoFileSystem) OpenAppend(name string) (File, error) {
	f, err := a.fs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// Open opens an existing file read-only.
func (a *AferoFileSystem) Open(name string) (File, error) {
	f, err := a.fs.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Remove deletes a file.
func (a *AferoFileSystem) Remove(name string) error {
	return a.fs.Remove(name)
}

// ReadDir lists regular file names in dir.
func (a *AferoFileSystem) ReadDir(dir string) ([]string, error) {
	infos, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		names = append(names, fi.Name())
	}
	return names, nil
}

// SyncDir fsyncs the directory itself so renames, creates and removes survive a crash.
func (a *AferoFileSystem) SyncDir(dir string) error {
	d, err := a.fs.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
