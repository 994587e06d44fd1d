package files

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newTestStorage(t *testing.T) (*Storage, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	storage, err := NewStorage(fs, "/data/files")
	if err != nil {
		t.Fatalf("failed to build storage: %v", err)
	}
	return storage, fs
}

func TestWriteFileStoresUnderRoot(t *testing.T) {
	storage, fs := newTestStorage(t)

	url, err := storage.WriteFile(context.Background(), "doc-1.pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if url != "/files/doc-1.pdf" {
		t.Fatalf("unexpected url %q", url)
	}
	data, err := afero.ReadFile(fs, "/data/files/doc-1.pdf")
	if err != nil {
		t.Fatalf("expected file on the root filesystem: %v", err)
	}
	if string(data) != "%PDF" {
		t.Fatalf("unexpected content %q", data)
	}

	entries, err := afero.ReadDir(fs, "/data/files")
	if err != nil {
		t.Fatalf("read dir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestWriteFileRejectsTraversal(t *testing.T) {
	storage, _ := newTestStorage(t)
	for _, name := range []string{"", "../escape.pdf", "a/b.pdf", ".hidden", `a\b.pdf`} {
		if _, err := storage.WriteFile(context.Background(), name, strings.NewReader("x")); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected %q to be rejected, got %v", name, err)
		}
	}
}

func TestWriteFileHonorsCanceledContext(t *testing.T) {
	storage, fs := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := storage.WriteFile(ctx, "a.pdf", strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled write, got %v", err)
	}
	if exists, _ := afero.Exists(fs, "/data/files/a.pdf"); exists {
		t.Fatalf("expected no file after canceled write")
	}
}

func TestHTTPFileSystemServesStoredFiles(t *testing.T) {
	storage, _ := newTestStorage(t)
	if _, err := storage.WriteFile(context.Background(), "a.txt", strings.NewReader("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	file, err := storage.HTTPFileSystem().Open("/a.txt")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected content %q err=%v", data, err)
	}
	if _, err := storage.HTTPFileSystem().Open("/missing.txt"); err == nil {
		t.Fatalf("expected missing file error")
	}

	if err := storage.RemoveFile(context.Background(), "a.txt"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := storage.RemoveFile(context.Background(), "a.txt"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}
