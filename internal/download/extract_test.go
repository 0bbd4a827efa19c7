package download

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractZipWritesFiles(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.zip")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("creating archive: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("nested/file.txt")
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("writing zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	f.Close()

	destDir := filepath.Join(dir, "out")
	if err := Extract(archivePath, destDir, ExtractZip); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(destDir, "nested", "file.txt"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected extracted content %q, got %q", "hello", data)
	}
}

func TestExtractZipRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("creating archive: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("../../escape.txt")
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	w.Write([]byte("pwned"))
	zw.Close()
	f.Close()

	destDir := filepath.Join(dir, "out")
	if err := Extract(archivePath, destDir, ExtractZip); err == nil {
		t.Fatal("expected a path-traversal archive member to be rejected")
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file")
	os.WriteFile(src, []byte("x"), 0644)
	if err := Extract(src, filepath.Join(dir, "out"), ExtractFormat("unknown")); err == nil {
		t.Fatal("expected an error for an unsupported format")
	}
}
