package experiment

import (
	"archive/zip"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	sha256 "github.com/minio/sha256-simd"
	log "github.com/sirupsen/logrus"
)

// Package archives the experiment directory into name + ".zip", storing
// its contents under the directory's basename so unpacking stays tidy. A
// SHA-256 digest sidecar is written next to the archive for integrity
// checks when experiments are shipped around. An empty name archives in
// place, next to the experiment directory. Returns the archive path.
func (e *FlatFiles) Package(name string) (string, error) {
	if e.dir == "" {
		return "", errors.New("loose experiment files cannot be packaged")
	}
	if name == "" {
		name = e.dir
	}
	archive := name + ".zip"

	f, err := os.Create(archive)
	if err != nil {
		return "", err
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	base := filepath.Base(e.dir)
	walkErr := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(e.dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(filepath.Join(base, rel)))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if walkErr != nil {
		zw.Close()
		f.Close()
		return "", walkErr
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := writeDigest(archive); err != nil {
		return "", err
	}
	return archive, nil
}

// writeDigest writes "<hex>  <file>" in the format sha256sum -c accepts.
func writeDigest(archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	digest := hex.EncodeToString(h.Sum(nil))
	log.Debugf("packaged %s sha256 %s", archive, digest)
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(archive))
	return os.WriteFile(archive+".sha256", []byte(line), 0o644)
}
