// Package archive packages the built application bundle into the gzipped
// tarball that the feed's enclosure points at.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// PackagingError indicates the bundle could not be archived, most
// commonly because the build output is not where the configuration says
// it should be.
type PackagingError struct {
	Path string
	Err  error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("package %s: %v", e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}

// Name returns the deterministic archive path for a bundle and version:
// <dir>/<bundle base name>-<version>.tgz. The version in the name is
// what ties the upload, the feed entry and the bump together, so every
// caller must derive the path through here.
func Name(dir, bundlePath, version string) string {
	return filepath.Join(dir, filepath.Base(bundlePath)+"-"+version+".tgz")
}

// Package writes a gzip-compressed tarball of the application bundle to
// Name(dir, bundlePath, version) and returns that path. The bundle
// directory itself is the single top-level entry; its internal layout,
// file modes and symlinks are preserved.
func Package(dir, bundlePath, version string) (string, error) {
	if _, err := os.Lstat(bundlePath); err != nil {
		return "", &PackagingError{Path: bundlePath, Err: err}
	}

	archivePath := Name(dir, bundlePath, version)
	f, err := os.Create(archivePath)
	if err != nil {
		return "", &PackagingError{Path: archivePath, Err: err}
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	base := filepath.Base(bundlePath)
	err = filepath.WalkDir(bundlePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(bundlePath, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.Join(base, rel)
		}
		return writeEntry(tw, path, name, d)
	})
	if err != nil {
		return "", &PackagingError{Path: bundlePath, Err: err}
	}

	if err := tw.Close(); err != nil {
		return "", &PackagingError{Path: archivePath, Err: err}
	}
	if err := gz.Close(); err != nil {
		return "", &PackagingError{Path: archivePath, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &PackagingError{Path: archivePath, Err: err}
	}
	return archivePath, nil
}

func writeEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	link := ""
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	if _, err := io.Copy(tw, src); err != nil {
		return err
	}
	return nil
}
