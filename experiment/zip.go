package experiment

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// ZipFiles is a packaged experiment. Both the assembly trace and the perf
// script output must be present; the raw perf recording is not readable
// from an archive.
type ZipFiles struct {
	zr      *zip.ReadCloser
	asm     *zip.File
	perfOut *zip.File
}

func OpenZipFiles(path string) (*ZipFiles, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
	z := &ZipFiles{zr: zr}
	if z.asm, err = findMember(&zr.Reader, AssemblyName); err != nil {
		zr.Close()
		return nil, err
	}
	if z.perfOut, err = findMember(&zr.Reader, PerfOutputName); err != nil {
		zr.Close()
		return nil, err
	}
	return z, nil
}

// findMember locates a member by its well-known name, tolerating the
// directory prefix Package puts in front of it.
func findMember(zr *zip.Reader, name string) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == name || strings.HasSuffix(f.Name, "/"+name) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("archive is missing %s", name)
}

func (z *ZipFiles) HasAssembly() bool { return z.asm != nil }

func (z *ZipFiles) HasPerfOutput() bool { return z.perfOut != nil }

type memSource struct {
	*bytes.Reader
}

func (memSource) Close() error { return nil }

// OpenAssembly inflates the trace member into memory; the decoder needs
// random access and archive members only stream.
func (z *ZipFiles) OpenAssembly() (ByteSource, error) {
	rc, err := z.asm.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return memSource{bytes.NewReader(data)}, nil
}

func (z *ZipFiles) OpenPerfOutput() (io.ReadCloser, error) {
	return z.perfOut.Open()
}

func (z *ZipFiles) Close() error { return z.zr.Close() }
