package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// URLPrefix is the path under which stored files are served.
const URLPrefix = "/files"

var (
	ErrInvalidName = errors.New("files: invalid file name")
	errMissingRoot = errors.New("files: root directory is required")
)

// Storage writes uploaded content below a root directory.
type Storage struct {
	fs afero.Fs
}

// NewStorage roots storage at root on fs. A nil fs uses the OS filesystem.
func NewStorage(fs afero.Fs, root string) (*Storage, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errMissingRoot
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("files: create root: %w", err)
	}
	return &Storage{fs: afero.NewBasePathFs(fs, root)}, nil
}

// WriteFile stores content as name and returns the url it is served from.
// The file is replaced atomically when the underlying filesystem supports rename.
func (s *Storage) WriteFile(ctx context.Context, name string, content io.Reader) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	temp, err := afero.TempFile(s.fs, "/", "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("files: create temp: %w", err)
	}
	tempName := temp.Name()
	if _, err := io.Copy(temp, contextReader{ctx: ctx, reader: content}); err != nil {
		temp.Close()
		s.fs.Remove(tempName)
		return "", fmt.Errorf("files: write %s: %w", name, err)
	}
	if err := temp.Close(); err != nil {
		s.fs.Remove(tempName)
		return "", fmt.Errorf("files: close %s: %w", name, err)
	}
	if err := s.fs.Rename(tempName, "/"+name); err != nil {
		s.fs.Remove(tempName)
		return "", fmt.Errorf("files: rename %s: %w", name, err)
	}
	return URLPrefix + "/" + name, nil
}

// RemoveFile deletes a stored file. A missing file is not an error.
func (s *Storage) RemoveFile(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove("/" + name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// HTTPFileSystem exposes the stored files for static serving.
func (s *Storage) HTTPFileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir("/")
}

func validateName(name string) error {
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
