package sys

import (
	"io"
	"os"
)

// FileHandle is the surface the engine needs from a backing file. *os.File
// satisfies it; tests substitute implementations that fail on demand.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

type CreateHandler func(name string) (FileHandle, error)
type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
type RemoveHandler func(name string) error

// The default handlers go straight to the OS. They are package variables so
// tests can swap in fakes without touching the code under test.
var Create CreateHandler = func(name string) (FileHandle, error) {
	return os.Create(name)
}

var OpenFile OpenFileHandler = func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return os.OpenFile(name, flag, perm)
}

var Remove RemoveHandler = func(name string) error {
	return os.Remove(name)
}

// CopyFile copies src to dst, truncating dst if it exists. Used to preserve
// backing-file images of failed verifications.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
