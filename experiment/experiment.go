// Package experiment stores and retrieves the artifacts of one profiling
// run: the binary assembly trace written by the JVMTI agent, the raw perf
// recording, and the textual perf script output. An experiment lives
// either in a flat directory or packaged into a zip archive.
package experiment

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Member names are fixed so directories and archives stay interchangeable.
const (
	AssemblyName   = "jvmti_asm_file"
	PerfBinaryName = "perf_binary_file"
	PerfOutputName = "perf_output_file"
)

// ByteSource is a random-access view of one stored artifact.
type ByteSource interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Files is the read side of an experiment, backed by a directory or an
// archive.
type Files interface {
	HasAssembly() bool
	HasPerfOutput() bool
	OpenAssembly() (ByteSource, error)
	OpenPerfOutput() (io.ReadCloser, error)
	Close() error
}

// Open opens an experiment at path: a directory is used as flat files, a
// regular file is treated as a packaged archive.
func Open(path string) (Files, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return NewFlatFiles(path)
	}
	return OpenZipFiles(path)
}

// FlatFiles is an experiment in a directory, or a set of loose files when
// no directory is involved.
type FlatFiles struct {
	dir      string // empty for loose files
	asmPath  string
	perfBin  string
	perfOut  string
	dumpPath string
}

func newFlat(dir string) *FlatFiles {
	return &FlatFiles{
		dir:     dir,
		asmPath: filepath.Join(dir, AssemblyName),
		perfBin: filepath.Join(dir, PerfBinaryName),
		perfOut: filepath.Join(dir, PerfOutputName),
	}
}

// NewFlatFiles opens an existing experiment directory.
func NewFlatFiles(dir string) (*FlatFiles, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("experiment %s is not a directory", abs)
	}
	return newFlat(abs), nil
}

// CreateFlatFiles creates a fresh experiment directory. An existing one is
// an error unless overwrite is set, in which case it is replaced.
func CreateFlatFiles(dir string, overwrite bool) (*FlatFiles, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("experiment already exists: %s", abs)
		}
		if err := os.RemoveAll(abs); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := os.Mkdir(abs, 0o755); err != nil {
		return nil, err
	}
	return newFlat(abs), nil
}

// NewLooseFiles wires up an experiment from individual file paths, for
// artifacts produced outside an experiment directory. Empty paths fall
// back to the standard member names in the working directory.
func NewLooseFiles(asmPath, perfBinaryPath string) *FlatFiles {
	if asmPath == "" {
		asmPath = AssemblyName
	}
	if perfBinaryPath == "" {
		perfBinaryPath = PerfBinaryName
	}
	return &FlatFiles{asmPath: asmPath, perfBin: perfBinaryPath, perfOut: PerfOutputName}
}

func (e *FlatFiles) Dir() string { return e.dir }

func (e *FlatFiles) AssemblyPath() string { return e.asmPath }

func (e *FlatFiles) PerfBinaryPath() string { return e.perfBin }

func (e *FlatFiles) PerfOutputPath() string { return e.perfOut }

func (e *FlatFiles) HasAssembly() bool { return fileExists(e.asmPath) }

func (e *FlatFiles) HasPerfBinary() bool { return fileExists(e.perfBin) }

func (e *FlatFiles) HasPerfOutput() bool { return fileExists(e.perfOut) }

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type fileSource struct {
	*os.File
	size int64
}

func (s *fileSource) Size() int64 { return s.size }

func (e *FlatFiles) OpenAssembly() (ByteSource, error) {
	f, err := os.Open(e.asmPath)
	if err != nil {
		return nil, err
	}
	// The trace is decoded front to back in one pass.
	if err := fadviseSequential(f); err != nil {
		log.Debugf("fadvise %s: %v", e.asmPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{File: f, size: info.Size()}, nil
}

func (e *FlatFiles) OpenPerfOutput() (io.ReadCloser, error) {
	return os.Open(e.perfOut)
}

// CreatePerfOutput creates the perf script output member for writing.
func (e *FlatFiles) CreatePerfOutput() (io.WriteCloser, error) {
	return os.Create(e.perfOut)
}

// CreateDumpDir creates the compiler dump directory inside the experiment,
// once; later calls return the same path.
func (e *FlatFiles) CreateDumpDir() (string, error) {
	if e.dumpPath != "" {
		return e.dumpPath, nil
	}
	if e.dir == "" {
		return "", errors.New("loose experiment files have no directory")
	}
	path := filepath.Join(e.dir, "dump")
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", err
	}
	e.dumpPath = path
	return path, nil
}

func (e *FlatFiles) Close() error { return nil }
