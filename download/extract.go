/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

package download

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extract unpacks a gzipped tarball into dir.
func extract(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		path, err := within(dir, filepath.Join(dir, hdr.Name))
		if err != nil {
			return err
		}
		if err := noSymlinks(dir, path); err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(path, hdr.FileInfo().Mode().Perm(), tr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("symlink %s has absolute target %s", hdr.Name, hdr.Linkname)
			}
			if _, err := within(dir, filepath.Join(filepath.Dir(path), hdr.Linkname)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return err
			}
		case tar.TypeLink:
			target, err := within(dir, filepath.Join(dir, hdr.Linkname))
			if err != nil {
				return err
			}
			if err := noSymlinks(dir, target); err != nil {
				return err
			}
			if err := os.Link(target, path); err != nil {
				return err
			}
		default:
			// Devices and fifos never appear in source archives.
		}
	}
}

// within returns path if it is inside root and an error otherwise.
func within(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %s escapes %s", path, root)
	}
	return path, nil
}

// noSymlinks rejects path when it, or any directory between root and it, is
// a symlink already extracted. The lexical check in within cannot see those.
func noSymlinks(root, path string) error {
	for p := path; p != root && len(p) > len(root); p = filepath.Dir(p) {
		fi, err := os.Lstat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("archive entry %s passes through symlink %s", path, p)
		}
	}
	return nil
}

func writeFile(path string, perm os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// hoist moves the entries of the single top-level directory in src into dest.
func hoist(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return fmt.Errorf("expected exactly one directory inside the archive, found %d entries", len(entries))
	}

	top := filepath.Join(src, entries[0].Name())
	children, err := os.ReadDir(top)
	if err != nil {
		return err
	}
	for _, e := range children {
		if err := os.Rename(filepath.Join(top, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
