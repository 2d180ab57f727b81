package dpu

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrInvalidArchive is returned for uploads that are neither a JAR nor a
	// readable ZIP, and for ZIP entries escaping the target directory.
	ErrInvalidArchive = errors.New("invalid archive")

	// ErrNoJar is returned when a ZIP upload contains no JAR.
	ErrNoJar = errors.New("no JAR file found")

	// ErrInvalidJarName is returned for JARs not named <name>-<version>.jar.
	ErrInvalidJarName = errors.New("invalid JAR file name")
)

// JarPattern selects the JARs of an unpacked upload.
const JarPattern = "**/*.jar"

var jarName = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9_.]*(?:-[A-Za-z][A-Za-z0-9_.]*)*)-(\d+(?:\.\d+)*(?:[-.][A-Za-z0-9]+)*)\.jar$`)

// ParseJarName splits a file name of the form <name>-<version>.jar, e.g.
// uv-e-filesDownload-2.1.0.jar -> uv-e-filesDownload, 2.1.0.
func ParseJarName(file string) (name, version string, err error) {
	m := jarName.FindStringSubmatch(filepath.Base(file))
	if m == nil {
		return "", "", fmt.Errorf("%w: %q, expected <name>-<version>.jar", ErrInvalidJarName, filepath.Base(file))
	}
	return m[1], m[2], nil
}

// unzip extracts src into dir. Entries whose path would leave dir are
// rejected. At most limit bytes are extracted in total.
func unzip(src, dir string, limit int64) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	var written int64
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("%w: entry %q escapes the upload directory", ErrInvalidArchive, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		n, err := extract(f, target, limit-written)
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func extract(f *zip.File, target string, limit int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if n > limit {
		return n, fmt.Errorf("%w: archive exceeds the upload limit", ErrInvalidArchive)
	}
	return n, nil
}

// findJars returns the JARs below dir, sorted.
func findJars(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), JarPattern)
	if err != nil {
		return nil, fmt.Errorf("glob error: %w", err)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		// skip macOS resource forks
		if strings.HasPrefix(m, "__MACOSX/") {
			continue
		}
		paths = append(paths, filepath.Join(dir, filepath.FromSlash(m)))
	}
	sort.Strings(paths)
	return paths, nil
}

// moveFile renames src to dst, copying when the rename crosses devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
