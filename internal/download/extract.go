package download

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/pkg/archive"
)

// Extract unpacks the archive at srcPath into destDir according to format.
// tar.gz/tar.bz2/tar.xz all funnel through docker's archive.Untar, which
// autodetects the compression and already implements path-traversal-safe,
// device/symlink-escape-safe member extraction — the same invariant this
// package would otherwise have to hand-roll. Zip has no such library in the
// retrieval pack, so it uses the standard library's archive/zip with an
// explicit safety check on each member's resolved path.
func Extract(srcPath, destDir string, format ExtractFormat) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	switch format {
	case ExtractTarGz, ExtractTarBz2, ExtractTarXz:
		f, err := os.Open(srcPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return archive.Untar(f, destDir, &archive.TarOptions{NoLchown: true})
	case ExtractZip:
		return extractZip(srcPath, destDir)
	default:
		return fmt.Errorf("unsupported extract format: %q", format)
	}
}

func extractZip(srcPath, destDir string) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	destDir, err = filepath.Abs(destDir)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		rel, err := filepath.Rel(destDir, target)
		if err != nil || strings.HasPrefix(rel, "..") || rel == ".." {
			return fmt.Errorf("archive member escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("archive corruption: %w", err)
	}
	return nil
}
